package batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/topic-analysis/internal/checkpoint"
	"github.com/sells-group/topic-analysis/internal/extract"
	"github.com/sells-group/topic-analysis/internal/model"
	"github.com/sells-group/topic-analysis/internal/resilience"
)

// Extractor produces the analysis for one prompt.
type Extractor interface {
	Extract(ctx context.Context, prompt string) (model.Analysis, error)
}

// PromptBuilder renders the prompt for one corpus item.
type PromptBuilder interface {
	Build(item model.Item) string
}

// Options tunes a Driver.
type Options struct {
	// SaveEvery saves after every SaveEvery successes of this run. Default 10.
	SaveEvery int
	// Pacing is the pause between consecutive files.
	Pacing time.Duration
	// Limit caps the number of pending files processed. Zero means no cap.
	Limit int
	// Sleep waits between files. Defaults to resilience.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now defaults to time.Now.
	Now func() time.Time
}

// Summary reports the outcome of a run.
type Summary struct {
	Total       int // corpus size
	Skipped     int // already in the progress log
	Pending     int // work list size after Limit
	Succeeded   int
	Failed      int
	Interrupted bool
	Elapsed     time.Duration
}

// Driver processes corpus items sequentially.
type Driver struct {
	store     checkpoint.Store
	extractor Extractor
	prompts   PromptBuilder
	opts      Options
}

// NewDriver creates a Driver. store is used only by this driver.
func NewDriver(store checkpoint.Store, extractor Extractor, prompts PromptBuilder, opts Options) *Driver {
	if opts.SaveEvery <= 0 {
		opts.SaveEvery = 10
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = resilience.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Driver{store: store, extractor: extractor, prompts: prompts, opts: opts}
}

// Run extracts every item not yet in state's progress log, saving every
// SaveEvery successes and once more at the end. Cancelling ctx stops the run
// after the in-flight file; the final save still happens. Only a failed
// final save is returned as an error.
func (d *Driver) Run(ctx context.Context, state *State, items []model.Item) (*Summary, error) {
	work, skipped := d.workList(state, items)
	summary := &Summary{Total: len(items), Skipped: skipped, Pending: len(work)}

	zap.L().Info("batch: starting run",
		zap.Int("corpus", len(items)),
		zap.Int("already_processed", skipped),
		zap.Int("pending", len(work)),
		zap.Int("limit", d.opts.Limit),
	)

	start := d.opts.Now()
	for i, item := range work {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		log := zap.L().With(
			zap.String("file", item.ID),
			zap.Int("index", i+1),
			zap.Int("of", len(work)),
		)

		analysis, err := d.extractor.Extract(ctx, d.prompts.Build(item))
		switch {
		case err == nil:
			state.MarkDone(item.ID, analysis)
			summary.Succeeded++
			log.Info("batch: file analysed",
				zap.String("category", analysis.Category),
				zap.Strings("tags", analysis.Tags),
			)
			if summary.Succeeded%d.opts.SaveEvery == 0 {
				d.save(ctx, state)
			}
		case ctx.Err() != nil:
			summary.Interrupted = true
		default:
			summary.Failed++
			state.MarkFailed(d.failure(item.ID, err))
			log.Warn("batch: file skipped after exhausting attempts", zap.Error(err))
		}
		if summary.Interrupted {
			break
		}

		done := i + 1
		elapsed := d.opts.Now().Sub(start)
		eta := time.Duration(float64(elapsed) / float64(done) * float64(len(work)-done))
		log.Info("batch: progress",
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Duration("eta", eta.Round(time.Second)),
		)

		if done < len(work) {
			if err := d.opts.Sleep(ctx, d.opts.Pacing); err != nil {
				summary.Interrupted = true
				break
			}
		}
	}
	summary.Elapsed = d.opts.Now().Sub(start)

	if err := d.store.Save(context.WithoutCancel(ctx), state.Checkpoint()); err != nil {
		return summary, eris.Wrap(err, "batch: final save")
	}

	zap.L().Info("batch: run complete",
		zap.Int("corpus", summary.Total),
		zap.Int("pending", summary.Pending),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("elapsed", summary.Elapsed.Round(time.Second)),
	)
	return summary, nil
}

// workList drops items already done or repeated, then applies Limit.
func (d *Driver) workList(state *State, items []model.Item) ([]model.Item, int) {
	seen := make(map[string]bool, len(items))
	work := make([]model.Item, 0, len(items))
	skipped := 0
	for _, item := range items {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		if state.IsDone(item.ID) {
			skipped++
			continue
		}
		work = append(work, item)
	}
	if d.opts.Limit > 0 && len(work) > d.opts.Limit {
		work = work[:d.opts.Limit]
	}
	return work, skipped
}

func (d *Driver) save(ctx context.Context, state *State) {
	if err := d.store.Save(ctx, state.Checkpoint()); err != nil {
		zap.L().Error("batch: checkpoint save failed, continuing", zap.Error(err))
		return
	}
	zap.L().Info("batch: checkpoint saved", zap.Int("processed", state.Processed()))
}

func (d *Driver) failure(id string, err error) model.FailureEntry {
	entry := model.FailureEntry{
		ID:       uuid.NewString(),
		FileName: id,
		Kind:     model.FailureTransport,
		Error:    err.Error(),
		Attempts: 1,
		FailedAt: d.opts.Now().UTC(),
	}
	var ex *extract.ExhaustedError
	if errors.As(err, &ex) {
		entry.Kind = ex.Kind()
		entry.Attempts = ex.Attempts
	}
	return entry
}
