package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/topic-analysis/internal/batch"
)

var (
	runRunID string
	runLimit int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract topic metadata for every unprocessed corpus file",
	Long:  "Processes the corpus one file at a time. Pass --run-id of an earlier run to resume it; files already in its progress log are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		limit := cfg.Batch.Limit
		if cmd.Flags().Changed("limit") {
			limit = runLimit
		}

		id := runRunID
		if id == "" {
			id = newRunID(time.Now())
		}

		summary, err := executeRun(ctx, id, limit)
		if summary != nil {
			printSummary(cmd.OutOrStdout(), id, summary)
		}
		return err
	},
}

func executeRun(ctx context.Context, runID string, limit int) (*batch.Summary, error) {
	items, err := loadCorpus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load corpus")
	}

	st, err := openStore(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	defer st.Close() //nolint:errcheck

	builder, schema, err := initPrompt()
	if err != nil {
		return nil, err
	}

	zap.L().Info("run configured",
		zap.String("run_id", runID),
		zap.String("store", cfg.Store.Driver),
		zap.String("model", cfg.Anthropic.Model),
		zap.Stringer("fields", schema),
		zap.Int("corpus", len(items)),
	)

	driver := batch.NewDriver(st, initExtractor(schema), builder, batch.Options{
		SaveEvery: cfg.Batch.SaveEvery,
		Pacing:    time.Duration(cfg.Batch.RequestIntervalMs) * time.Millisecond,
		Limit:     limit,
	})
	return driver.Run(ctx, batch.LoadState(ctx, st), items)
}

func printSummary(out io.Writer, runID string, s *batch.Summary) {
	fmt.Fprintf(out, "run %s: %d corpus, %d already done, %d pending, %d succeeded, %d failed in %s\n",
		runID, s.Total, s.Skipped, s.Pending, s.Succeeded, s.Failed, s.Elapsed.Round(time.Second))
	if s.Interrupted {
		fmt.Fprintf(out, "interrupted; resume with --run-id %s\n", runID)
	}
}

func init() {
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "run to resume (default: new run named by start time)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "process at most this many pending files (0 = all)")
	rootCmd.AddCommand(runCmd)
}
