package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/config"
	"github.com/sells-group/condition-eval/internal/delta"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/optimize"
	"github.com/sells-group/condition-eval/internal/store"
	"github.com/sells-group/condition-eval/internal/threshold"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Search category boundaries for higher accuracy",
	Long: `Runs coordinate ascent over the integer category boundaries of one side
(--side) or of every configured side, keeping range tiling intact. The
best configuration found is reported and, with --write, saved as a new
threshold document.`,
	Example: `  condition-eval optimize --side front
  condition-eval optimize --model new --write tuned.yaml --timeout 300`,
	RunE: runOptimize,
}

func init() {
	f := optimizeCmd.Flags()
	f.String("side", "", "optimize a single side (default: all configured sides)")
	f.String("write", "", "write the optimized threshold document to this path")
	f.Int("max-iterations", 0, "override max passes over the sides")
	f.Int("timeout", 0, "override search timeout in seconds")
	f.Int("workers", 0, "override parallel candidate evaluations")
	f.Int("step", 0, "override boundary sweep stride")
	addOutputFlags(optimizeCmd)
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Optimizer = applyOptimizerOverrides(cmd, cfg.Optimizer)
	env, err := initEnv(ctx, "optimize")
	if err != nil {
		return err
	}

	log := zap.L().With(zap.String("question", env.Question), zap.String("model", string(env.Source)))
	opts := optimizerOptions(cfg.Optimizer)
	opts.Progress = func(p optimize.Progress) {
		log.Debug("optimize: boundary swept",
			zap.String("run_id", p.RunID),
			zap.String("side", p.Side.String()),
			zap.Int("boundary", p.Boundary),
			zap.Int("iteration", p.Iteration),
			zap.Int("evaluations", p.Evaluations),
			zap.Float64("accuracy", p.Accuracy),
		)
	}
	opt := optimize.New(delta.NewEngine(env.Question, env.Source, env.Normalizer), opts)

	start := time.Now()
	var res *optimize.Result
	sideName, _ := cmd.Flags().GetString("side")
	if strings.TrimSpace(sideName) == "" {
		res, err = opt.OptimizeAll(ctx, env.Records, env.Thresholds)
	} else {
		side, perr := model.ParseSide(sideName)
		if perr != nil {
			return eris.Wrap(perr, "optimize")
		}
		res, err = opt.OptimizeSide(ctx, env.Records, env.Thresholds, side)
	}
	if err != nil {
		return eris.Wrap(err, "optimize")
	}

	log.Info("optimize: complete",
		zap.String("run_id", res.RunID),
		zap.Float64("accuracy_before", res.AccuracyBefore),
		zap.Float64("accuracy", res.Accuracy),
		zap.Int("evaluations", res.Evaluations),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := recordRun(ctx, res, env.Source); err != nil {
		log.Warn("optimize: record run", zap.Error(err))
	}

	if path, _ := cmd.Flags().GetString("write"); path != "" {
		if err := writeThresholds(path, res.Config); err != nil {
			return err
		}
		log.Info("optimize: thresholds written", zap.String("path", path))
	}

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
		return writeOptimizeTable(w, env.Question, res)
	}
}

// recordRun saves the result to the run history, if one is configured.
func recordRun(ctx context.Context, res *optimize.Result, source model.Source) error {
	st, err := initStore(ctx)
	if err != nil || st == nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return st.SaveRun(ctx, store.RunFromResult(res, source))
}

// applyOptimizerOverrides applies CLI flag overrides to the optimizer config.
func applyOptimizerOverrides(cmd *cobra.Command, base config.OptimizerConfig) config.OptimizerConfig {
	c := base
	if v, _ := cmd.Flags().GetInt("max-iterations"); v > 0 {
		c.MaxIterations = v
	}
	if v, _ := cmd.Flags().GetInt("timeout"); v > 0 {
		c.TimeoutSecs = v
	}
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		c.Workers = v
	}
	if v, _ := cmd.Flags().GetInt("step"); v > 0 {
		c.Step = v
	}
	return c
}

func writeThresholds(path string, th *threshold.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "optimize: create %s", path)
	}
	defer f.Close() //nolint:errcheck
	return threshold.WriteDocument(f, th.Document(), threshold.FormatFromPath(path))
}

func writeOptimizeTable(w io.Writer, question string, res *optimize.Result) error {
	scope := res.Side
	if scope == "" {
		scope = "all sides"
	}
	fmt.Fprintf(w, "Run:         %s\n", res.RunID)
	fmt.Fprintf(w, "Scope:       %s\n", scope)
	fmt.Fprintf(w, "Accuracy:    %s -> %s (%+.2f pts)\n",
		pct(res.AccuracyBefore), pct(res.Accuracy), res.Delta*100)
	fmt.Fprintf(w, "Iterations:  %d   Evaluations: %d   Timed out: %v\n\n",
		res.Iterations, res.Evaluations, res.TimedOut)

	if !res.Improved {
		_, err := fmt.Fprintln(w, "No improvement found; thresholds unchanged.")
		return err
	}

	q, err := res.Config.Question(question)
	if err != nil {
		return eris.Wrap(err, "optimize")
	}
	fmt.Fprintln(w, "Boundaries:")
	for _, side := range q.Sides() {
		var parts []string
		for _, r := range q.Ranges(side) {
			parts = append(parts, fmt.Sprintf("%s [%d, %d]", r.Category, r.Min, r.Max))
		}
		fmt.Fprintf(w, "  %-7s %s\n", side.String(), strings.Join(parts, "  "))
	}
	fmt.Fprintln(w)
	return writeChangesTable(w, res.Changed)
}
