package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/topic-analysis/internal/checkpoint"
	"github.com/sells-group/topic-analysis/internal/model"
)

var statusRunID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress and failures of a run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		ids, err := scanCorpus()
		if err != nil {
			return eris.Wrap(err, "status")
		}

		st, err := openStore(ctx, statusRunID)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		cp, err := st.Load(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		formatRunStatus(cmd.OutOrStdout(), computeRunStatus(statusRunID, ids, cp))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusRunID, "run-id", "", "run to inspect (required)")
	_ = statusCmd.MarkFlagRequired("run-id")
	rootCmd.AddCommand(statusCmd)
}

// runStatus summarizes a run's checkpoint against the current corpus.
type runStatus struct {
	RunID     string
	Corpus    int
	Processed int
	Remaining int
	Orphaned  int // processed files no longer in the corpus
	Failures  map[model.FailureKind]int
	Recent    []model.FailureEntry
}

const recentFailures = 5

func computeRunStatus(runID string, corpusIDs []string, cp *checkpoint.Checkpoint) runStatus {
	s := runStatus{RunID: runID, Corpus: len(corpusIDs), Failures: map[model.FailureKind]int{}}

	inCorpus := make(map[string]bool, len(corpusIDs))
	for _, id := range corpusIDs {
		inCorpus[id] = true
	}
	for _, id := range cp.Processed {
		if inCorpus[id] {
			s.Processed++
		} else {
			s.Orphaned++
		}
	}
	s.Remaining = s.Corpus - s.Processed

	for _, f := range cp.Failures {
		s.Failures[f.Kind]++
	}
	recent := append([]model.FailureEntry(nil), cp.Failures...)
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].FailedAt.After(recent[j].FailedAt) })
	if len(recent) > recentFailures {
		recent = recent[:recentFailures]
	}
	s.Recent = recent
	return s
}

func formatRunStatus(out io.Writer, s runStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	_, _ = fmt.Fprintf(w, "Corpus files:\t%d\n", s.Corpus)
	_, _ = fmt.Fprintf(w, "Processed:\t%d\n", s.Processed)
	_, _ = fmt.Fprintf(w, "Remaining:\t%d\n", s.Remaining)
	if s.Orphaned > 0 {
		_, _ = fmt.Fprintf(w, "Not in corpus:\t%d\n", s.Orphaned)
	}

	kinds := make([]string, 0, len(s.Failures))
	for k := range s.Failures {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		_, _ = fmt.Fprintf(w, "Failed (%s):\t%d\n", k, s.Failures[model.FailureKind(k)])
	}
	_ = w.Flush()

	if len(s.Recent) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FILE\tKIND\tATTEMPTS\tFAILED\tERROR")
	for _, f := range s.Recent {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			f.FileName, f.Kind, f.Attempts, f.FailedAt.Format("2006-01-02 15:04"), truncate(f.Error, 60))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
