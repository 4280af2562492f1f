package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/recordset"
	"github.com/sells-group/condition-eval/internal/threshold"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a threshold document and, if configured, the record table",
	Long: `Schema-checks the threshold document and verifies that every configured
side tiles the 0-100 score domain with one category per score. When a record
table is configured it is also loaded and its row statistics reported.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("validate"); err != nil {
			return err
		}
		th, err := threshold.Load(cfg.Thresholds.Path)
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Thresholds: %s OK\n", cfg.Thresholds.Path)
		for _, name := range th.Questions() {
			q, err := th.Question(name)
			if err != nil {
				return eris.Wrap(err, "validate")
			}
			fmt.Fprintf(out, "\n%s\n  severity: %s\n", name, strings.Join(q.Severity(), " < "))
			for _, side := range q.Sides() {
				var parts []string
				for _, r := range q.Ranges(side) {
					parts = append(parts, fmt.Sprintf("%s [%d, %d]", r.Category, r.Min, r.Max))
				}
				fmt.Fprintf(out, "  %-7s %s\n", side.String(), strings.Join(parts, "  "))
			}
		}

		if cfg.Records.Path == "" {
			return nil
		}
		_, stats, err := recordset.Load(ctx, cfg.Records.Path, recordset.Options{
			IDColumn: cfg.Records.IDColumn,
			Sheet:    cfg.Records.Sheet,
		})
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		fmt.Fprintf(out, "\nRecords: %s\n", cfg.Records.Path)
		fmt.Fprintf(out, "  rows %d, records %d, missing id %d, bad scores %d, bad dates %d, new model %v\n",
			stats.Rows, stats.Records, stats.MissingID, stats.BadScores, stats.BadDates, stats.HasNewModel)
		zap.L().Info("validate: complete", zap.Int("records", stats.Records))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
