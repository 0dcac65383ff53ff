// Package checkpoint persists the progress log, results, and failure
// diagnostics of a batch run so an interrupted run can resume.
package checkpoint

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/topic-analysis/internal/model"
)

// Checkpoint is the durable state of one run.
type Checkpoint struct {
	Processed []string
	Results   []model.ResultEntry
	Failures  []model.FailureEntry
}

// Store loads and saves the checkpoint of a single run.
type Store interface {
	// Load returns the saved state, or an empty Checkpoint when none exists.
	Load(ctx context.Context) (*Checkpoint, error)
	// Save persists the progress log and results together.
	Save(ctx context.Context, cp *Checkpoint) error
	Close() error
}

// Reconcile drops progress ids without a result and results whose file is
// not in the progress log, and removes duplicates. Failures of files that are
// done are dropped too. It restores the pairing invariant after a save was
// interrupted between artifacts. It returns the number of entries dropped.
func (c *Checkpoint) Reconcile() int {
	hasResult := make(map[string]bool, len(c.Results))
	for _, r := range c.Results {
		hasResult[r.FileName] = true
	}

	seen := make(map[string]bool, len(c.Processed))
	processed := make([]string, 0, len(c.Processed))
	for _, id := range c.Processed {
		if seen[id] || !hasResult[id] {
			continue
		}
		seen[id] = true
		processed = append(processed, id)
	}

	kept := make(map[string]bool, len(processed))
	results := make([]model.ResultEntry, 0, len(c.Results))
	for _, r := range c.Results {
		if !seen[r.FileName] || kept[r.FileName] {
			continue
		}
		kept[r.FileName] = true
		results = append(results, r)
	}

	var failures []model.FailureEntry
	for _, f := range c.Failures {
		if !seen[f.FileName] {
			failures = append(failures, f)
		}
	}

	dropped := len(c.Processed) - len(processed) + len(c.Results) - len(results) + len(c.Failures) - len(failures)
	c.Processed = processed
	c.Results = results
	if len(failures) != len(c.Failures) {
		c.Failures = failures
	}
	return dropped
}

// Options selects and configures a Store.
type Options struct {
	Driver      string // file, sqlite, postgres
	OutputDir   string
	ProgressDir string
	DatabaseURL string
	RunID       string
}

// Open creates the Store named by opts.Driver for opts.RunID.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.RunID == "" {
		return nil, eris.New("checkpoint: run id is required")
	}

	switch strings.ToLower(opts.Driver) {
	case "", "file":
		return NewFileStore(opts.OutputDir, opts.ProgressDir, opts.RunID)
	case "sqlite":
		st, err := NewSQLiteStore(opts.DatabaseURL, opts.RunID)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := NewPostgresStore(ctx, opts.DatabaseURL, opts.RunID)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("checkpoint: unknown store driver %q", opts.Driver)
	}
}
