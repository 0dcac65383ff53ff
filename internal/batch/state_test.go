package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/topic-analysis/internal/checkpoint"
	"github.com/sells-group/topic-analysis/internal/model"
)

func TestNewState_FromCheckpoint(t *testing.T) {
	state := NewState(&checkpoint.Checkpoint{
		Processed: []string{"a", "orphan"},
		Results: []model.ResultEntry{
			{FileName: "a", Analysis: model.Analysis{Category: "x"}},
			{FileName: "b", Analysis: model.Analysis{Category: "y"}},
		},
	})

	assert.True(t, state.IsDone("a"))
	assert.False(t, state.IsDone("b"), "result without progress is not done")
	assert.False(t, state.IsDone("orphan"), "progress without result is not done")
	assert.Equal(t, 1, state.Processed())
}

func TestNewState_StaleFailureOfDoneFile(t *testing.T) {
	state := NewState(&checkpoint.Checkpoint{
		Processed: []string{"f00.json"},
		Results:   []model.ResultEntry{{FileName: "f00.json"}},
		Failures: []model.FailureEntry{
			{ID: "1", FileName: "f00.json", Kind: model.FailureTransport, Attempts: 3},
		},
	})

	assert.True(t, state.IsDone("f00.json"))
	assert.Empty(t, state.Failures())
}

func TestState_MarkDoneOrder(t *testing.T) {
	state := NewState(nil)
	state.MarkDone("a", model.Analysis{Category: "1"})
	state.MarkDone("b", model.Analysis{Category: "2"})
	state.MarkDone("a", model.Analysis{Category: "again"})

	cp := state.Checkpoint()
	assert.Equal(t, []string{"a", "b"}, cp.Processed)
	require.Len(t, cp.Results, 2)
	assert.Equal(t, "1", cp.Results[0].Analysis.Category)
}

func TestState_MarkFailedReplaces(t *testing.T) {
	state := NewState(nil)
	state.MarkFailed(model.FailureEntry{ID: "1", FileName: "a", Kind: model.FailureTransport})
	state.MarkFailed(model.FailureEntry{ID: "2", FileName: "b", Kind: model.FailureParse})
	state.MarkFailed(model.FailureEntry{ID: "3", FileName: "a", Kind: model.FailureSchema, FailedAt: time.Now()})

	failures := state.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "2", failures[0].ID)
	assert.Equal(t, "3", failures[1].ID)
	assert.Equal(t, 0, state.Processed(), "failures never touch progress")

	state.MarkDone("a", model.Analysis{})
	failures = state.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "b", failures[0].FileName)
}

func TestState_CheckpointIsSnapshot(t *testing.T) {
	state := NewState(nil)
	state.MarkDone("a", model.Analysis{})
	cp := state.Checkpoint()

	state.MarkDone("b", model.Analysis{})
	assert.Len(t, cp.Processed, 1)
	assert.Len(t, cp.Results, 1)
}
