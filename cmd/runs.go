package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/condition-eval/internal/store"
	"github.com/sells-group/condition-eval/internal/threshold"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect optimization run history",
	Long:  "Commands for listing and viewing recorded optimization runs. Requires store.driver.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List optimization runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		question, _ := cmd.Flags().GetString("for-question")
		improved, _ := cmd.Flags().GetBool("improved")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Question:     question,
			ImprovedOnly: improved,
			Limit:        limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the threshold document a run produced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "json":
			return writeJSON(cmd.OutOrStdout(), run)
		case "yaml":
			return threshold.WriteDocument(cmd.OutOrStdout(), run.Thresholds, threshold.FormatYAML)
		default:
			return eris.Errorf("runs show: --format must be yaml or json (got %q)", format)
		}
	},
}

func init() {
	runsListCmd.Flags().String("for-question", "", "filter by question")
	runsListCmd.Flags().Bool("improved", false, "only runs that improved accuracy")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsShowCmd.Flags().String("format", "yaml", "output format: yaml (threshold document) or json (full run)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tQUESTION\tSIDE\tMODEL\tBEFORE\tAFTER\tCHANGED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t----\t-----\t------\t-----\t-------\t-------")

	for _, r := range runs {
		side := r.Side
		if side == "" {
			side = "all"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(r.ID),
			truncate(r.Question, 30),
			side,
			r.Model,
			pct(r.AccuracyBefore),
			pct(r.Accuracy),
			r.Changed,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
