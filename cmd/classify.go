package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/verdict"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Label every record with per-side categories and a final verdict",
	RunE:  runClassify,
}

func init() {
	addOutputFlags(classifyCmd)
	rootCmd.AddCommand(classifyCmd)
}

// classifyRow is one record's verdict alongside its reviewed answer.
type classifyRow struct {
	verdict.Result
	Actual string `json:"actual,omitempty"`
}

func runClassify(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx, "evaluate")
	if err != nil {
		return err
	}

	labeler, err := verdict.NewLabeler(env.Thresholds, env.Question, env.Source)
	if err != nil {
		return eris.Wrap(err, "classify")
	}
	results, unscored, err := labeler.LabelAll(env.Records)
	if err != nil {
		return eris.Wrap(err, "classify")
	}

	rows := make([]classifyRow, len(results))
	for i, r := range results {
		rows[i] = classifyRow{Result: r, Actual: env.Records[i].FinalAnswer}
	}

	zap.L().Info("classify: complete",
		zap.String("question", env.Question),
		zap.String("model", string(env.Source)),
		zap.Int("records", len(rows)),
		zap.Int("unscored", unscored),
	)

	w, format, closeFn, err := outputTarget(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	sides := labeler.Question().Sides()
	switch format {
	case formatJSON:
		return writeJSON(w, map[string]any{"results": rows, "unscored": unscored})
	case formatCSV:
		return writeClassifyCSV(w, sides, rows)
	default:
		return writeClassifyTable(w, sides, rows)
	}
}

func writeClassifyCSV(w io.Writer, sides []model.Side, rows []classifyRow) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"record_id"}
	for _, s := range sides {
		header = append(header, s.String())
	}
	header = append(header, "final", "driving_sides", "actual")
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "classify: write CSV header")
	}

	for _, r := range rows {
		row := []string{r.RecordID}
		for _, s := range sides {
			row = append(row, r.SideLabels[s])
		}
		row = append(row, r.Final, model.JoinSides(r.Driving), r.Actual)
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "classify: write CSV row")
		}
	}
	return cw.Error()
}

func writeClassifyTable(w io.Writer, sides []model.Side, rows []classifyRow) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s", "Record")
	for _, s := range sides {
		fmt.Fprintf(&b, " %-18s", s.String())
	}
	fmt.Fprintf(&b, " %-22s %-22s\n", "Final", "Actual")
	if _, err := fmt.Fprint(w, b.String()); err != nil {
		return eris.Wrap(err, "classify: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", b.Len()-1)); err != nil {
		return eris.Wrap(err, "classify: write table separator")
	}

	for _, r := range rows {
		b.Reset()
		fmt.Fprintf(&b, "%-14s", truncate(r.RecordID, 14))
		for _, s := range sides {
			fmt.Fprintf(&b, " %-18s", truncate(r.SideLabels[s], 18))
		}
		final := r.Final
		if final == "" {
			final = "(unscored)"
		}
		fmt.Fprintf(&b, " %-22s %-22s\n", truncate(final, 22), truncate(r.Actual, 22))
		if _, err := fmt.Fprint(w, b.String()); err != nil {
			return eris.Wrap(err, "classify: write table row")
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
