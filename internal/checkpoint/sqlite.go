package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/topic-analysis/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Several runs can
// share one database file; rows are keyed by run id.
type SQLiteStore struct {
	db    *sql.DB
	runID string
	saved savedKeys
}

// NewSQLiteStore opens a SQLite database at the given path and configures WAL mode.
func NewSQLiteStore(dsn, runID string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, runID: runID, saved: newSavedKeys()}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS processed_files (
	run_id       TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	processed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, file_name)
);

CREATE TABLE IF NOT EXISTS analysis_results (
	run_id     TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	analysis   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, file_name)
);

CREATE TABLE IF NOT EXISTS extraction_failures (
	id        TEXT PRIMARY KEY,
	run_id    TEXT NOT NULL,
	file_name TEXT NOT NULL,
	kind      TEXT NOT NULL,
	error     TEXT NOT NULL,
	attempts  INTEGER NOT NULL,
	failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extraction_failures_run_id ON extraction_failures(run_id);
`

// Migrate creates the checkpoint tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (*Checkpoint, error) {
	cp := &Checkpoint{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT file_name FROM processed_files WHERE run_id = ? ORDER BY seq`, s.runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query processed files")
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan processed file")
		}
		cp.Processed = append(cp.Processed, id)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate processed files")
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT file_name, analysis FROM analysis_results WHERE run_id = ? ORDER BY seq`, s.runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query results")
	}
	for rows.Next() {
		var (
			entry model.ResultEntry
			raw   string
		)
		if err := rows.Scan(&entry.FileName, &raw); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		if err := json.Unmarshal([]byte(raw), &entry.Analysis); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: decode result %s", entry.FileName)
		}
		cp.Results = append(cp.Results, entry)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate results")
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, file_name, kind, error, attempts, failed_at FROM extraction_failures WHERE run_id = ? ORDER BY failed_at, id`, s.runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query failures")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var (
			f    model.FailureEntry
			kind string
		)
		if err := rows.Scan(&f.ID, &f.FileName, &kind, &f.Error, &f.Attempts, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		f.Kind = model.FailureKind(kind)
		cp.Failures = append(cp.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate failures")
	}

	cp.Reconcile()
	s.saved.reset(cp)
	return cp, nil
}

// Save inserts the progress ids and results added since the last save and
// replaces the failure list, all in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	procs, results := s.saved.pending(cp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, p := range procs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO processed_files (run_id, file_name, seq, processed_at) VALUES (?, ?, ?, ?)`,
			s.runID, p.id, p.seq, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert processed file %s", p.id)
		}
	}

	for _, r := range results {
		analysisJSON, err := json.Marshal(r.entry.Analysis)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal analysis")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO analysis_results (run_id, file_name, seq, analysis, created_at) VALUES (?, ?, ?, ?, ?)`,
			s.runID, r.entry.FileName, r.seq, string(analysisJSON), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert result %s", r.entry.FileName)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM extraction_failures WHERE run_id = ?`, s.runID); err != nil {
		return eris.Wrap(err, "sqlite: clear failures")
	}
	for _, f := range cp.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO extraction_failures (id, run_id, file_name, kind, error, attempts, failed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, s.runID, f.FileName, string(f.Kind), f.Error, f.Attempts, f.FailedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert failure %s", f.FileName)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	s.saved.mark(procs, results)
	return nil
}
