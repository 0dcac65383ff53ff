package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/topic-analysis/internal/corpus"
)

var pruneSections []string

var pruneCmd = &cobra.Command{
	Use:   "prune-system",
	Short: "Trim system messages down to the configured profile sections",
	Long:  "Rewrites every corpus file in place so its system message keeps only the \"# <heading> {...}\" sections named by corpus.system_sections.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if len(pruneSections) > 0 {
			cfg.Corpus.SystemSections = pruneSections
		}
		if err := cfg.Validate("prune"); err != nil {
			return err
		}

		ids, err := scanCorpus()
		if err != nil {
			return eris.Wrap(err, "prune-system")
		}

		res := pruneCorpus(cfg.Corpus.Root, ids, cfg.Corpus.SystemSections)
		fmt.Fprintf(cmd.OutOrStdout(), "%d files, %d rewritten, %d unchanged, %d skipped\n",
			len(ids), res.Rewritten, res.Unchanged, res.Skipped)
		if res.Errors > 0 {
			return eris.Errorf("prune-system: %d files could not be rewritten", res.Errors)
		}
		return nil
	},
}

type pruneResult struct {
	Rewritten int
	Unchanged int
	Skipped   int
	Errors    int
}

func pruneCorpus(root string, ids, headings []string) pruneResult {
	var res pruneResult
	for _, id := range ids {
		changed, err := corpus.PruneFile(filepath.Join(root, filepath.FromSlash(id)), headings)
		switch {
		case errors.Is(err, corpus.ErrNotConversation):
			res.Skipped++
			zap.L().Warn("prune-system: not a conversation file", zap.String("file", id))
		case err != nil:
			res.Errors++
			zap.L().Error("prune-system: rewrite failed", zap.String("file", id), zap.Error(err))
		case changed:
			res.Rewritten++
		default:
			res.Unchanged++
		}
	}
	return res
}

func init() {
	pruneCmd.Flags().StringSliceVar(&pruneSections, "sections", nil, "headings to keep (default: corpus.system_sections)")
	rootCmd.AddCommand(pruneCmd)
}
