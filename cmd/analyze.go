package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/analytics"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Report accuracy by day, category and side with score distributions",
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().Int("top", analytics.DefaultTopN, "number of misclassifications to list")
	addOutputFlags(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

type analyzeOutput struct {
	Report    *analytics.Report   `json:"report"`
	Agreement analytics.Agreement `json:"agreement"`
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx, "evaluate")
	if err != nil {
		return err
	}
	top, _ := cmd.Flags().GetInt("top")

	a := analytics.New(env.Thresholds, env.Question, env.Normalizer).WithTopN(top)
	rep, err := a.Analyze(ctx, env.Records, env.Source)
	if err != nil {
		return eris.Wrap(err, "analyze")
	}
	agreement, err := a.Agreement(env.Records)
	if err != nil {
		return eris.Wrap(err, "analyze")
	}

	zap.L().Info("analyze: complete",
		zap.String("question", rep.Question),
		zap.Float64("accuracy", rep.Overall.Accuracy),
		zap.Int("days", len(rep.Daily)),
		zap.Float64("model_agreement", agreement.Rate),
	)

	w, format, closeFn, err := outputTarget(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	out := analyzeOutput{Report: rep, Agreement: agreement}
	switch format {
	case formatJSON:
		return writeJSON(w, out)
	case formatCSV:
		return writeAnalyzeCSV(w, rep)
	default:
		return writeAnalyzeTable(w, out)
	}
}

// writeAnalyzeCSV flattens the accuracy breakdowns into
// (dimension, key, correct, total, accuracy) rows.
func writeAnalyzeCSV(w io.Writer, rep *analytics.Report) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"dimension", "key", "correct", "total", "accuracy"}); err != nil {
		return eris.Wrap(err, "analyze: write CSV header")
	}
	write := func(dim, key string, t analytics.Tally) error {
		row := []string{dim, key, strconv.Itoa(t.Correct), strconv.Itoa(t.Total), strconv.FormatFloat(t.Accuracy, 'f', 4, 64)}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "analyze: write CSV row")
		}
		return nil
	}

	if err := write("overall", "", rep.Overall); err != nil {
		return err
	}
	for _, d := range rep.Daily {
		if err := write("date", d.Date, d.Tally); err != nil {
			return err
		}
	}
	for _, c := range rep.Categories {
		if err := write("category", c.Category, c.Tally); err != nil {
			return err
		}
	}
	for _, s := range rep.Sides {
		if err := write("side", s.Side.String(), s.Tally); err != nil {
			return err
		}
	}
	return cw.Error()
}

func writeAnalyzeTable(w io.Writer, out analyzeOutput) error {
	rep := out.Report
	fmt.Fprintf(w, "Question: %s   Model: %s\n", rep.Question, rep.Source)
	fmt.Fprintf(w, "Overall:  %s (%d / %d)   Unlabeled: %d   Unscored: %d\n",
		pct(rep.Overall.Accuracy), rep.Overall.Correct, rep.Overall.Total, rep.Unlabeled, rep.Unscored)
	ag := out.Agreement
	fmt.Fprintf(w, "Models:   both right %d, only deployed %d, only new %d, both wrong %d (agreement %s)\n",
		ag.BothAgree, ag.OnlyDeployed, ag.OnlyNew, ag.BothDisagree, pct(ag.Rate))

	fmt.Fprintf(w, "\n%-12s %8s %8s %9s\n", "Date", "Correct", "Total", "Accuracy")
	for _, d := range rep.Daily {
		fmt.Fprintf(w, "%-12s %8d %8d %9s\n", d.Date, d.Correct, d.Total, pct(d.Accuracy))
	}

	fmt.Fprintf(w, "\n%-28s %8s %8s %9s\n", "Category", "Correct", "Total", "Accuracy")
	for _, c := range rep.Categories {
		fmt.Fprintf(w, "%-28s %8d %8d %9s\n", truncate(c.Category, 28), c.Correct, c.Total, pct(c.Accuracy))
	}

	fmt.Fprintf(w, "\n%-8s %8s %8s %9s\n", "Side", "Correct", "Total", "Accuracy")
	for _, s := range rep.Sides {
		fmt.Fprintf(w, "%-8s %8d %8d %9s\n", s.Side.String(), s.Correct, s.Total, pct(s.Accuracy))
	}

	if len(rep.Misclassifications) > 0 {
		fmt.Fprintf(w, "\n%-28s %-28s %6s\n", "Predicted", "Actual", "Count")
		for _, m := range rep.Misclassifications {
			fmt.Fprintf(w, "%-28s %-28s %6d\n", truncate(m.Predicted, 28), truncate(m.Actual, 28), m.Count)
		}
	}

	fmt.Fprintf(w, "\n%-8s %6s %7s %7s %7s %7s %7s\n", "Side", "Count", "Mean", "StdDev", "Q25", "Median", "Q75")
	for _, d := range rep.Distributions {
		if _, err := fmt.Fprintf(w, "%-8s %6d %7.1f %7.1f %7.1f %7.1f %7.1f\n",
			d.Side.String(), d.Count, d.Mean, d.StdDev, d.Q25, d.Median, d.Q75); err != nil {
			return eris.Wrap(err, "analyze: write table")
		}
	}
	return nil
}
