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

	"github.com/sells-group/condition-eval/internal/delta"
	"github.com/sells-group/condition-eval/internal/threshold"
)

var deltaCmd = &cobra.Command{
	Use:   "delta",
	Short: "Compare a candidate threshold document against the baseline",
	Long: `Re-labels only the records whose scores fall in a changed band and
reports the records whose final verdict moved, with accuracy before and
after.`,
	RunE: runDelta,
}

func init() {
	deltaCmd.Flags().String("candidate", "", "candidate threshold document (required)")
	_ = deltaCmd.MarkFlagRequired("candidate")
	addOutputFlags(deltaCmd)
	rootCmd.AddCommand(deltaCmd)
}

func runDelta(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx, "evaluate")
	if err != nil {
		return err
	}
	candidatePath, _ := cmd.Flags().GetString("candidate")
	candidate, err := threshold.Load(candidatePath)
	if err != nil {
		return eris.Wrap(err, "delta: load candidate")
	}

	engine := delta.NewEngine(env.Question, env.Source, env.Normalizer)
	res, err := engine.Delta(env.Records, env.Thresholds, candidate)
	if err != nil {
		return eris.Wrap(err, "delta")
	}

	zap.L().Info("delta: complete",
		zap.String("question", res.Question),
		zap.Int("changed", len(res.Changed)),
		zap.Int("reevaluated", res.Reevaluated),
		zap.Float64("accuracy_before", res.AccuracyBefore),
		zap.Float64("accuracy_after", res.AccuracyAfter),
	)

	w, format, closeFn, err := outputTarget(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	switch format {
	case formatJSON:
		return writeJSON(w, res)
	case formatCSV:
		return writeChangesCSV(w, res.Changed)
	default:
		return writeDeltaTable(w, res)
	}
}

func writeChangesCSV(w io.Writer, changes []delta.Change) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"record_id", "before", "after", "actual"}); err != nil {
		return eris.Wrap(err, "delta: write CSV header")
	}
	for _, c := range changes {
		if err := cw.Write([]string{c.RecordID, c.Before, c.After, c.Actual}); err != nil {
			return eris.Wrap(err, "delta: write CSV row")
		}
	}
	return cw.Error()
}

func writeDeltaTable(w io.Writer, res *delta.Result) error {
	fmt.Fprintf(w, "Question:  %s\n", res.Question)
	fmt.Fprintf(w, "Accuracy:  %s -> %s (%+.2f pts)\n",
		pct(res.AccuracyBefore), pct(res.AccuracyAfter), res.AccuracyDelta*100)
	fmt.Fprintf(w, "Changed:   %d   Re-evaluated: %d\n\n", len(res.Changed), res.Reevaluated)
	return writeChangesTable(w, res.Changed)
}

func writeChangesTable(w io.Writer, changes []delta.Change) error {
	if len(changes) == 0 {
		_, err := fmt.Fprintln(w, "No verdict changes.")
		return err
	}
	if _, err := fmt.Fprintf(w, "%-14s %-22s %-22s %-22s\n", "Record", "Before", "After", "Actual"); err != nil {
		return eris.Wrap(err, "delta: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 83)); err != nil {
		return eris.Wrap(err, "delta: write table separator")
	}
	for _, c := range changes {
		if _, err := fmt.Fprintf(w, "%-14s %-22s %-22s %-22s\n",
			truncate(c.RecordID, 14), truncate(c.Before, 22), truncate(c.After, 22), truncate(c.Actual, 22)); err != nil {
			return eris.Wrap(err, "delta: write table row")
		}
	}
	return nil
}
