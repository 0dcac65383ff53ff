package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/topic-analysis/internal/export"
)

var (
	exportRunID  string
	exportOut    string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a run's results to an xlsx or jsonl file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
			return err
		}
		if _, err := export.FormatFor(exportOut, exportFormat); err != nil {
			return err
		}

		st, err := openStore(ctx, exportRunID)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close() //nolint:errcheck

		cp, err := st.Load(ctx)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		if err := export.Write(exportOut, exportFormat, cp.Results); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("run_id", exportRunID),
			zap.String("path", exportOut),
			zap.Int("results", len(cp.Results)),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d results to %s\n", len(cp.Results), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "run-id", "", "run to export (required)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (required)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "xlsx or jsonl (default: from the output extension)")
	_ = exportCmd.MarkFlagRequired("run-id")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}
