package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/topic-analysis/internal/checkpoint"
	"github.com/sells-group/topic-analysis/internal/extract"
	"github.com/sells-group/topic-analysis/internal/model"
)

// --- Fakes ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, prompt string) (model.Analysis, error) {
	args := m.Called(ctx, prompt)
	return args.Get(0).(model.Analysis), args.Error(1)
}

// funcExtractor answers from a function and counts calls per prompt.
type funcExtractor struct {
	fn    func(ctx context.Context, prompt string) (model.Analysis, error)
	calls []string
}

func (f *funcExtractor) Extract(ctx context.Context, prompt string) (model.Analysis, error) {
	f.calls = append(f.calls, prompt)
	return f.fn(ctx, prompt)
}

func succeedAll() *funcExtractor {
	return &funcExtractor{fn: func(_ context.Context, prompt string) (model.Analysis, error) {
		return model.Analysis{Category: "cat-" + prompt, Tags: []string{"t"}, Description: "d", RelatedMemory: "m"}, nil
	}}
}

// idPrompts uses the item id as the prompt so fakes can tell files apart.
type idPrompts struct{}

func (idPrompts) Build(item model.Item) string { return item.ID }

// spyStore wraps a Store, counting saves and optionally failing them.
type spyStore struct {
	checkpoint.Store
	saves     int
	saveSizes []int
	failFrom  int // saves numbered >= failFrom fail without writing; 0 disables
	loadErr   error
}

func (s *spyStore) Load(ctx context.Context) (*checkpoint.Checkpoint, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Store.Load(ctx)
}

func (s *spyStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.saves++
	if s.failFrom > 0 && s.saves >= s.failFrom {
		return errors.New("disk unavailable")
	}
	s.saveSizes = append(s.saveSizes, len(cp.Processed))
	return s.Store.Save(ctx, cp)
}

func newFileStore(t *testing.T, dir string) checkpoint.Store {
	t.Helper()
	st, err := checkpoint.NewFileStore(filepath.Join(dir, "output"), filepath.Join(dir, "progress"), "run")
	require.NoError(t, err)
	return st
}

func items(n int) []model.Item {
	out := make([]model.Item, n)
	for i := range out {
		out[i] = model.Item{ID: fmt.Sprintf("f%02d.json", i)}
	}
	return out
}

func noSleep(context.Context, time.Duration) error { return nil }

// --- Tests ---

func TestRun_ProcessesAllAndSaves(t *testing.T) {
	store := &spyStore{Store: newFileStore(t, t.TempDir())}
	ex := succeedAll()
	d := NewDriver(store, ex, idPrompts{}, Options{SaveEvery: 10, Sleep: noSleep})

	state := LoadState(context.Background(), store)
	summary, err := d.Run(context.Background(), state, items(25))
	require.NoError(t, err)

	assert.Equal(t, 25, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 25, summary.Pending)
	assert.Equal(t, []int{10, 20, 25}, store.saveSizes, "every 10th success plus the final save")

	results := state.Results()
	require.Len(t, results, 25)
	assert.Equal(t, "f00.json", results[0].FileName)
	assert.Equal(t, "cat-f00.json", results[0].Analysis.Category)
}

func TestRun_IdempotentResume(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	corpus := items(12)

	first := succeedAll()
	store := newFileStore(t, dir)
	_, err := NewDriver(store, first, idPrompts{}, Options{Sleep: noSleep}).Run(ctx, LoadState(ctx, store), corpus)
	require.NoError(t, err)
	assert.Len(t, first.calls, 12)

	second := succeedAll()
	reopened := newFileStore(t, dir)
	state := LoadState(ctx, reopened)
	summary, err := NewDriver(reopened, second, idPrompts{}, Options{Sleep: noSleep}).Run(ctx, state, corpus)
	require.NoError(t, err)

	assert.Empty(t, second.calls)
	assert.Equal(t, 12, summary.Skipped)
	assert.Equal(t, 0, summary.Pending)
	assert.Len(t, state.Results(), 12, "no new result entries")
}

func TestRun_FailedFileLeavesNoProgress(t *testing.T) {
	store := &spyStore{Store: newFileStore(t, t.TempDir())}
	ex := &funcExtractor{fn: func(_ context.Context, prompt string) (model.Analysis, error) {
		if prompt == "f01.json" {
			return model.Analysis{}, &extract.ExhaustedError{
				Attempts: 3,
				Last:     &extract.AttemptError{Kind: model.FailureLocatorMiss, Err: extract.ErrNoJSON},
			}
		}
		return model.Analysis{Category: "ok"}, nil
	}}
	d := NewDriver(store, ex, idPrompts{}, Options{Sleep: noSleep})

	state := NewState(nil)
	summary, err := d.Run(context.Background(), state, items(3))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, state.IsDone("f01.json"))
	for _, r := range state.Results() {
		assert.NotEqual(t, "f01.json", r.FileName)
	}

	failures := state.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "f01.json", failures[0].FileName)
	assert.Equal(t, model.FailureLocatorMiss, failures[0].Kind)
	assert.Equal(t, 3, failures[0].Attempts)
	assert.NotEmpty(t, failures[0].ID)
}

func TestRun_FailedFileRetriedNextRun(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	failing := &funcExtractor{fn: func(_ context.Context, prompt string) (model.Analysis, error) {
		if prompt == "f00.json" {
			return model.Analysis{}, errors.New("exhausted")
		}
		return model.Analysis{Category: "ok"}, nil
	}}
	store := newFileStore(t, dir)
	_, err := NewDriver(store, failing, idPrompts{}, Options{Sleep: noSleep}).Run(ctx, LoadState(ctx, store), items(2))
	require.NoError(t, err)

	retry := succeedAll()
	state := LoadState(ctx, store)
	require.Len(t, state.Failures(), 1)

	_, err = NewDriver(store, retry, idPrompts{}, Options{Sleep: noSleep}).Run(ctx, state, items(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"f00.json"}, retry.calls)
	assert.Empty(t, state.Failures(), "failure cleared once the file succeeds")
	assert.Equal(t, 2, state.Processed())
}

// A hard stop after a success but before the next save point: the restart
// must neither duplicate nor lose saved entries.
func TestRun_InterruptedBeforeSavePoint(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	corpus := items(5)

	// Saves 1 and 2 land at 2 and 4 successes; the final save "crashes".
	crashing := &spyStore{Store: newFileStore(t, dir), failFrom: 3}
	_, err := NewDriver(crashing, succeedAll(), idPrompts{}, Options{SaveEvery: 2, Sleep: noSleep}).
		Run(ctx, NewState(nil), corpus)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch: final save")

	store := newFileStore(t, dir)
	state := LoadState(ctx, store)
	assert.Equal(t, 4, state.Processed())

	restart := succeedAll()
	_, err = NewDriver(store, restart, idPrompts{}, Options{SaveEvery: 2, Sleep: noSleep}).Run(ctx, state, corpus)
	require.NoError(t, err)
	assert.Equal(t, []string{"f04.json"}, restart.calls)

	final := LoadState(ctx, newFileStore(t, dir))
	results := final.Results()
	require.Len(t, results, 5)
	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.FileName], "duplicate result for %s", r.FileName)
		seen[r.FileName] = true
	}
}

func TestRun_IntermediateSaveErrorContinues(t *testing.T) {
	store := &spyStore{Store: newFileStore(t, t.TempDir())}
	calls := 0
	ex := &funcExtractor{fn: func(context.Context, string) (model.Analysis, error) {
		calls++
		return model.Analysis{}, nil
	}}
	failing := &failOnceStore{Store: store}
	d := NewDriver(failing, ex, idPrompts{}, Options{SaveEvery: 1, Sleep: noSleep})

	summary, err := d.Run(context.Background(), NewState(nil), items(3))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 4, failing.saves)
}

type failOnceStore struct {
	checkpoint.Store
	saves int
}

func (s *failOnceStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.saves++
	if s.saves == 1 {
		return errors.New("transient write error")
	}
	return s.Store.Save(ctx, cp)
}

func TestRun_PacingSkippedAfterLastFile(t *testing.T) {
	var pauses []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	d := NewDriver(&spyStore{Store: newFileStore(t, t.TempDir())}, succeedAll(), idPrompts{},
		Options{Pacing: time.Second, Sleep: sleep})

	_, err := d.Run(context.Background(), NewState(nil), items(4))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, pauses)
}

func TestRun_Limit(t *testing.T) {
	ex := succeedAll()
	d := NewDriver(&spyStore{Store: newFileStore(t, t.TempDir())}, ex, idPrompts{},
		Options{Limit: 2, Sleep: noSleep})

	summary, err := d.Run(context.Background(), NewState(nil), items(5))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pending)
	assert.Equal(t, []string{"f00.json", "f01.json"}, ex.calls)
}

func TestRun_SkipsDuplicateItems(t *testing.T) {
	ex := succeedAll()
	d := NewDriver(&spyStore{Store: newFileStore(t, t.TempDir())}, ex, idPrompts{}, Options{Sleep: noSleep})

	list := append(items(2), items(2)...)
	_, err := d.Run(context.Background(), NewState(nil), list)
	require.NoError(t, err)
	assert.Len(t, ex.calls, 2)
}

func TestRun_CancelledSavesAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &spyStore{Store: newFileStore(t, t.TempDir())}

	ex := &funcExtractor{}
	ex.fn = func(_ context.Context, prompt string) (model.Analysis, error) {
		if prompt == "f01.json" {
			cancel()
		}
		return model.Analysis{Category: "ok"}, nil
	}

	sleep := func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	d := NewDriver(store, ex, idPrompts{}, Options{Sleep: sleep})

	state := NewState(nil)
	summary, err := d.Run(ctx, state, items(5))
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 2, summary.Succeeded, "the in-flight file completes")
	assert.Len(t, ex.calls, 2)
	assert.Equal(t, []int{2}, store.saveSizes, "final save runs despite cancellation")
}

func TestRun_CancelledMidExtraction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &spyStore{Store: newFileStore(t, t.TempDir())}

	m := &mockExtractor{}
	m.On("Extract", mock.Anything, "f00.json").Return(model.Analysis{Category: "ok"}, nil).Once()
	m.On("Extract", mock.Anything, "f01.json").Run(func(mock.Arguments) { cancel() }).
		Return(model.Analysis{}, context.Canceled).Once()

	state := NewState(nil)
	summary, err := NewDriver(store, m, idPrompts{}, Options{Sleep: noSleep}).Run(ctx, state, items(3))
	require.NoError(t, err)

	assert.True(t, summary.Interrupted)
	assert.Equal(t, 0, summary.Failed, "a cancelled file is not a failure")
	assert.Empty(t, state.Failures())
	assert.Equal(t, 1, state.Processed())
	m.AssertExpectations(t)
}

func TestLoadState_UnreadableCheckpoint(t *testing.T) {
	store := &spyStore{Store: newFileStore(t, t.TempDir()), loadErr: errors.New("corrupt")}

	state := LoadState(context.Background(), store)
	assert.Equal(t, 0, state.Processed())
	assert.Empty(t, state.Results())
}
