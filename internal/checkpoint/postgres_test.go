package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/topic-analysis/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresStore(mock, nil, "r1"), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS processed_files`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT file_name FROM processed_files WHERE run_id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"file_name"}).AddRow("a").AddRow("b"))
	mock.ExpectQuery(`SELECT file_name, analysis FROM analysis_results WHERE run_id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"file_name", "analysis"}).
			AddRow("a", []byte(`{"category":"work","tags":["x"],"description":"d","related_memory":"m"}`)).
			AddRow("b", []byte(`{"category":"home","tags":[],"description":"d","related_memory":"m"}`)))
	mock.ExpectQuery(`SELECT id, file_name, kind, error, attempts, failed_at FROM extraction_failures`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "file_name", "kind", "error", "attempts", "failed_at"}).
			AddRow("f1", "c", "schema_incomplete", "missing fields: tags", 3, at))

	cp, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cp.Processed)
	require.Len(t, cp.Results, 2)
	assert.Equal(t, "work", cp.Results[0].Analysis.Category)
	assert.Equal(t, []string{"x"}, cp.Results[0].Analysis.Tags)
	require.Len(t, cp.Failures, 1)
	assert.Equal(t, model.FailureSchema, cp.Failures[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadQueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT file_name FROM processed_files`).
		WithArgs("r1").
		WillReturnError(errors.New("connection refused"))

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: query processed files")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveInsertsOnlyNewEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	cp := &Checkpoint{
		Processed: []string{"a"},
		Results:   []model.ResultEntry{result("a", "x")},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "processed_files" .* ON CONFLICT \("run_id", "file_name"\) DO NOTHING`).
		WithArgs("r1", "a", 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "analysis_results"`).
		WithArgs("r1", "a", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM extraction_failures WHERE run_id = \$1`).
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	require.NoError(t, s.Save(ctx, cp))

	cp.Processed = append(cp.Processed, "b")
	cp.Results = append(cp.Results, result("b", "y"))
	cp.Failures = []model.FailureEntry{{ID: "f1", FileName: "c", Kind: model.FailureTransport, Attempts: 3, FailedAt: time.Now()}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "processed_files"`).
		WithArgs("r1", "b", 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "analysis_results"`).
		WithArgs("r1", "b", 1, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM extraction_failures`).
		WithArgs("r1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO "extraction_failures"`).
		WithArgs("f1", "r1", "c", "transport", "", 3, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.Save(ctx, cp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	cp := &Checkpoint{
		Processed: []string{"a"},
		Results:   []model.ResultEntry{result("a", "x")},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "processed_files"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "analysis_results"`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Save(ctx, cp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: save results")
	assert.NoError(t, mock.ExpectationsWereMet())

	// Nothing was committed, so the next save retries both inserts.
	procs, results := s.saved.pending(cp)
	assert.Len(t, procs, 1)
	assert.Len(t, results, 1)
}
