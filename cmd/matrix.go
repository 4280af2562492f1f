package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/matrix"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/verdict"
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Build the confusion matrix of final verdicts against reviewed answers",
	Long: `Builds the confusion matrix of the selected model's final verdicts against
the reviewed answers. With --compare, the deployed and new models are
tabulated over one shared label universe.`,
	RunE: runMatrix,
}

func init() {
	matrixCmd.Flags().Bool("compare", false, "tabulate deployed and new models side by side")
	matrixCmd.Flags().Bool("metrics", false, "append per-label precision, recall and F1 (table format)")
	addOutputFlags(matrixCmd)
	rootCmd.AddCommand(matrixCmd)
}

func runMatrix(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx, "evaluate")
	if err != nil {
		return err
	}
	compare, _ := cmd.Flags().GetBool("compare")
	withMetrics, _ := cmd.Flags().GetBool("metrics")

	matrices, err := buildMatrices(env, compare)
	if err != nil {
		return err
	}
	for _, m := range matrices {
		zap.L().Info("matrix: built",
			zap.String("question", m.Question),
			zap.Int("total", m.Total),
			zap.Float64("accuracy", m.Accuracy),
			zap.Int("unlabeled", m.Unlabeled),
			zap.Int("unscored", m.Unscored),
		)
	}

	w, format, closeFn, err := outputTarget(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	switch format {
	case formatJSON:
		return writeJSON(w, matrices)
	case formatCSV:
		return writeMatrixCSV(w, matrices)
	default:
		for i, m := range matrices {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if err := writeMatrixTable(w, m, withMetrics); err != nil {
				return err
			}
		}
		return nil
	}
}

// namedMatrix tags a matrix with the model it was built from.
type namedMatrix struct {
	Model model.Source `json:"model"`
	*matrix.Matrix
}

func buildMatrices(env *evalEnv, compare bool) ([]namedMatrix, error) {
	q, err := env.Thresholds.Question(env.Question)
	if err != nil {
		return nil, eris.Wrap(err, "matrix")
	}
	b := matrix.NewBuilder(env.Question, q.Severity(), env.Normalizer)

	if !compare {
		labeler, err := verdict.NewLabeler(env.Thresholds, env.Question, env.Source)
		if err != nil {
			return nil, eris.Wrap(err, "matrix")
		}
		m, err := b.Build(env.Records, labeler.Final)
		if err != nil {
			return nil, eris.Wrap(err, "matrix")
		}
		return []namedMatrix{{Model: env.Source, Matrix: m}}, nil
	}

	deployed, err := verdict.NewLabeler(env.Thresholds, env.Question, model.SourceDeployed)
	if err != nil {
		return nil, eris.Wrap(err, "matrix")
	}
	updated, err := verdict.NewLabeler(env.Thresholds, env.Question, model.SourceNew)
	if err != nil {
		return nil, eris.Wrap(err, "matrix")
	}
	dm, nm, err := b.BuildPair(env.Records, deployed.Final, updated.Final)
	if err != nil {
		return nil, eris.Wrap(err, "matrix")
	}
	return []namedMatrix{
		{Model: model.SourceDeployed, Matrix: dm},
		{Model: model.SourceNew, Matrix: nm},
	}, nil
}

// writeMatrixCSV writes one row per non-empty cell.
func writeMatrixCSV(w io.Writer, matrices []namedMatrix) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"model", "actual", "predicted", "count"}); err != nil {
		return eris.Wrap(err, "matrix: write CSV header")
	}
	for _, m := range matrices {
		for a, actual := range m.Labels {
			for p, predicted := range m.Labels {
				n := m.Counts[a][p]
				if n == 0 {
					continue
				}
				row := []string{string(m.Model), actual, predicted, strconv.Itoa(n)}
				if err := cw.Write(row); err != nil {
					return eris.Wrap(err, "matrix: write CSV row")
				}
			}
		}
	}
	return cw.Error()
}

func writeMatrixTable(w io.Writer, m namedMatrix, withMetrics bool) error {
	fmt.Fprintf(w, "Question: %s   Model: %s\n", m.Question, m.Model)
	fmt.Fprintf(w, "Accuracy: %s (%d / %d)   Unlabeled: %d   Unscored: %d\n\n",
		pct(m.Accuracy), m.Correct, m.Total, m.Unlabeled, m.Unscored)
	if !m.HasData {
		_, err := fmt.Fprintln(w, "No usable records.")
		return err
	}

	width := 8
	for _, l := range m.Labels {
		width = max(width, min(len(l), 24))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-*s", width, "actual")
	for _, l := range m.Labels {
		fmt.Fprintf(&b, " %*s", width, truncate(l, width))
	}
	b.WriteByte('\n')
	for a, actual := range m.Labels {
		fmt.Fprintf(&b, "%-*s", width, truncate(actual, width))
		for p := range m.Labels {
			fmt.Fprintf(&b, " %*d", width, m.Counts[a][p])
		}
		b.WriteByte('\n')
	}
	if _, err := fmt.Fprint(w, b.String()); err != nil {
		return eris.Wrap(err, "matrix: write table")
	}

	if !withMetrics {
		return nil
	}
	fmt.Fprintf(w, "\n%-*s %9s %9s %9s %8s\n", width, "Label", "Precision", "Recall", "F1", "Support")
	for _, cm := range m.ClassMetrics() {
		if _, err := fmt.Fprintf(w, "%-*s %9.3f %9.3f %9.3f %8d\n",
			width, truncate(cm.Label, width), cm.Precision, cm.Recall, cm.F1, cm.Support); err != nil {
			return eris.Wrap(err, "matrix: write metrics")
		}
	}
	return nil
}
