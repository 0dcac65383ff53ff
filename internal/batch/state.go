// Package batch drives extraction over the corpus one file at a time and
// checkpoints progress so an interrupted run can resume.
package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/topic-analysis/internal/checkpoint"
	"github.com/sells-group/topic-analysis/internal/model"
)

// State is the mutable progress of one run. It is owned by a single Driver
// and is not safe for concurrent use.
type State struct {
	processed []string
	results   []model.ResultEntry
	failures  []model.FailureEntry
	done      map[string]bool
}

// NewState builds a State from a loaded checkpoint. A nil checkpoint yields
// an empty state.
func NewState(cp *checkpoint.Checkpoint) *State {
	s := &State{done: map[string]bool{}}
	if cp == nil {
		return s
	}
	cp.Reconcile()
	s.processed = append(s.processed, cp.Processed...)
	s.results = append(s.results, cp.Results...)
	s.failures = append(s.failures, cp.Failures...)
	for _, id := range s.processed {
		s.done[id] = true
	}
	return s
}

// LoadState loads the run's checkpoint from store. An unreadable checkpoint
// is logged and replaced by an empty state so the run can proceed.
func LoadState(ctx context.Context, store checkpoint.Store) *State {
	cp, err := store.Load(ctx)
	if err != nil {
		zap.L().Warn("batch: could not load checkpoint, starting from empty state", zap.Error(err))
		return NewState(nil)
	}
	return NewState(cp)
}

// IsDone reports whether id is in the progress log.
func (s *State) IsDone(id string) bool {
	return s.done[id]
}

// MarkDone appends id to the progress log and its result to the results,
// and clears any failure recorded for it.
func (s *State) MarkDone(id string, analysis model.Analysis) {
	if s.done[id] {
		return
	}
	s.processed = append(s.processed, id)
	s.results = append(s.results, model.ResultEntry{FileName: id, Analysis: analysis})
	s.done[id] = true
	s.dropFailure(id)
}

// MarkFailed records a failure diagnostic, replacing any earlier one for the
// same file. The progress log and results are not touched.
func (s *State) MarkFailed(entry model.FailureEntry) {
	s.dropFailure(entry.FileName)
	s.failures = append(s.failures, entry)
}

func (s *State) dropFailure(id string) {
	kept := s.failures[:0]
	for _, f := range s.failures {
		if f.FileName != id {
			kept = append(kept, f)
		}
	}
	s.failures = kept
}

// Processed returns the number of files in the progress log.
func (s *State) Processed() int { return len(s.processed) }

// Results returns a copy of the result entries.
func (s *State) Results() []model.ResultEntry {
	return append([]model.ResultEntry(nil), s.results...)
}

// Failures returns a copy of the failure diagnostics.
func (s *State) Failures() []model.FailureEntry {
	return append([]model.FailureEntry(nil), s.failures...)
}

// Checkpoint snapshots the state for saving.
func (s *State) Checkpoint() *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		Processed: append([]string(nil), s.processed...),
		Results:   s.Results(),
		Failures:  s.Failures(),
	}
}
