package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/topic-analysis/internal/fileutil"
	"github.com/sells-group/topic-analysis/internal/model"
)

// progressFile is the on-disk shape of the progress log.
type progressFile struct {
	ProcessedFiles []string `json:"processed_files"`
	Count          int      `json:"count"`
}

// FileStore keeps a run's state in three JSON files: results under the output
// directory, progress and failures under the progress directory.
type FileStore struct {
	resultsPath  string
	progressPath string
	failuresPath string
}

// NewFileStore creates both directories if needed.
func NewFileStore(outputDir, progressDir, runID string) (*FileStore, error) {
	for _, dir := range []string{outputDir, progressDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "checkpoint: create dir %s", dir)
		}
	}
	return &FileStore{
		resultsPath:  filepath.Join(outputDir, "analysis_results_"+runID+".json"),
		progressPath: filepath.Join(progressDir, "progress_"+runID+".json"),
		failuresPath: filepath.Join(progressDir, "failures_"+runID+".json"),
	}, nil
}

// ResultsPath returns the results file location.
func (s *FileStore) ResultsPath() string { return s.resultsPath }

// ProgressPath returns the progress file location.
func (s *FileStore) ProgressPath() string { return s.progressPath }

// Load reads whichever files exist and reconciles them.
func (s *FileStore) Load(_ context.Context) (*Checkpoint, error) {
	cp := &Checkpoint{}

	var progress progressFile
	if err := readJSON(s.progressPath, &progress); err != nil {
		return nil, err
	}
	cp.Processed = progress.ProcessedFiles

	if err := readJSON(s.resultsPath, &cp.Results); err != nil {
		return nil, err
	}
	if err := readJSON(s.failuresPath, &cp.Failures); err != nil {
		return nil, err
	}

	cp.Reconcile()
	return cp, nil
}

// Save writes results, then progress, then failures. Each file is replaced
// atomically. A crash between the writes leaves results ahead of progress,
// which Load reconciles.
func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	results := cp.Results
	if results == nil {
		results = []model.ResultEntry{}
	}
	if err := writeJSON(s.resultsPath, results); err != nil {
		return err
	}

	processed := cp.Processed
	if processed == nil {
		processed = []string{}
	}
	if err := writeJSON(s.progressPath, progressFile{ProcessedFiles: processed, Count: len(processed)}); err != nil {
		return err
	}

	failures := cp.Failures
	if failures == nil {
		failures = []model.FailureEntry{}
	}
	return writeJSON(s.failuresPath, failures)
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "checkpoint: read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "checkpoint: decode %s", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := fileutil.WriteJSONAtomic(path, v); err != nil {
		return eris.Wrapf(err, "checkpoint: write %s", path)
	}
	return nil
}
