package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/topic-analysis/internal/db"
	"github.com/sells-group/topic-analysis/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	runID   string
	saved   savedKeys
}

// NewPostgresStore creates a PostgresStore with a small connection pool.
func NewPostgresStore(ctx context.Context, connString, runID string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close, runID), nil
}

func newPostgresStore(pool db.Pool, closeFn func(), runID string) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn, runID: runID, saved: newSavedKeys()}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS processed_files (
	run_id       TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, file_name)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	run_id     TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	analysis   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, file_name)
);

CREATE TABLE IF NOT EXISTS extraction_failures (
	id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id    TEXT NOT NULL,
	file_name TEXT NOT NULL,
	kind      TEXT NOT NULL,
	error     TEXT NOT NULL,
	attempts  INTEGER NOT NULL,
	failed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extraction_failures_run_id ON extraction_failures(run_id);
`

// Migrate creates the checkpoint tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*Checkpoint, error) {
	cp := &Checkpoint{}

	rows, err := s.pool.Query(ctx,
		`SELECT file_name FROM processed_files WHERE run_id = $1 ORDER BY seq`, s.runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query processed files")
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan processed file")
		}
		cp.Processed = append(cp.Processed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate processed files")
	}

	rows, err = s.pool.Query(ctx,
		`SELECT file_name, analysis FROM analysis_results WHERE run_id = $1 ORDER BY seq`, s.runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query results")
	}
	for rows.Next() {
		var (
			entry model.ResultEntry
			raw   []byte
		)
		if err := rows.Scan(&entry.FileName, &raw); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		if err := json.Unmarshal(raw, &entry.Analysis); err != nil {
			rows.Close()
			return nil, eris.Wrapf(err, "postgres: decode result %s", entry.FileName)
		}
		cp.Results = append(cp.Results, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate results")
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, file_name, kind, error, attempts, failed_at FROM extraction_failures WHERE run_id = $1 ORDER BY failed_at, id`, s.runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query failures")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			f    model.FailureEntry
			kind string
		)
		if err := rows.Scan(&f.ID, &f.FileName, &kind, &f.Error, &f.Attempts, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		f.Kind = model.FailureKind(kind)
		cp.Failures = append(cp.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate failures")
	}

	cp.Reconcile()
	s.saved.reset(cp)
	return cp, nil
}

// Save inserts the progress ids and results added since the last save and
// replaces the failure list, all in one transaction.
func (s *PostgresStore) Save(ctx context.Context, cp *Checkpoint) error {
	procs, results := s.saved.pending(cp)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()

	procRows := make([][]any, 0, len(procs))
	for _, p := range procs {
		procRows = append(procRows, []any{s.runID, p.id, p.seq, now})
	}
	if _, err := db.InsertIgnore(ctx, tx, db.InsertConfig{
		Table:        "processed_files",
		Columns:      []string{"run_id", "file_name", "seq", "processed_at"},
		ConflictKeys: []string{"run_id", "file_name"},
	}, procRows); err != nil {
		return eris.Wrap(err, "postgres: save processed files")
	}

	resultRows := make([][]any, 0, len(results))
	for _, r := range results {
		analysisJSON, err := json.Marshal(r.entry.Analysis)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal analysis")
		}
		resultRows = append(resultRows, []any{s.runID, r.entry.FileName, r.seq, string(analysisJSON), now})
	}
	if _, err := db.InsertIgnore(ctx, tx, db.InsertConfig{
		Table:        "analysis_results",
		Columns:      []string{"run_id", "file_name", "seq", "analysis", "created_at"},
		ConflictKeys: []string{"run_id", "file_name"},
	}, resultRows); err != nil {
		return eris.Wrap(err, "postgres: save results")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM extraction_failures WHERE run_id = $1`, s.runID); err != nil {
		return eris.Wrap(err, "postgres: clear failures")
	}
	failureRows := make([][]any, 0, len(cp.Failures))
	for _, f := range cp.Failures {
		failureRows = append(failureRows, []any{f.ID, s.runID, f.FileName, string(f.Kind), f.Error, f.Attempts, f.FailedAt.UTC()})
	}
	if _, err := db.InsertIgnore(ctx, tx, db.InsertConfig{
		Table:        "extraction_failures",
		Columns:      []string{"id", "run_id", "file_name", "kind", "error", "attempts", "failed_at"},
		ConflictKeys: []string{"id"},
	}, failureRows); err != nil {
		return eris.Wrap(err, "postgres: save failures")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}
	s.saved.mark(procs, results)
	return nil
}
