package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/config"
	"github.com/sells-group/condition-eval/internal/matrix"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/optimize"
	"github.com/sells-group/condition-eval/internal/recordset"
	"github.com/sells-group/condition-eval/internal/threshold"
)

// evalEnv is everything a command needs to evaluate one question.
type evalEnv struct {
	Thresholds *threshold.Config
	Records    []model.Record
	Normalizer *matrix.Normalizer
	Question   string
	Source     model.Source
}

// initEnv validates the configuration for mode, then loads the threshold
// document and the record table.
func initEnv(ctx context.Context, mode string) (*evalEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	th, err := threshold.Load(cfg.Thresholds.Path)
	if err != nil {
		return nil, eris.Wrap(err, "load thresholds")
	}

	records, stats, err := recordset.Load(ctx, cfg.Records.Path, recordset.Options{
		IDColumn: cfg.Records.IDColumn,
		Sheet:    cfg.Records.Sheet,
	})
	if err != nil {
		return nil, eris.Wrap(err, "load records")
	}

	source := model.ParseSource(cfg.Thresholds.Model)
	if source == model.SourceNew && !stats.HasNewModel {
		zap.L().Warn("record table has no new-model scores; every record will be unscored",
			zap.String("path", cfg.Records.Path))
	}

	return &evalEnv{
		Thresholds: th,
		Records:    records,
		Normalizer: newNormalizer(th),
		Question:   cfg.Thresholds.Question,
		Source:     source,
	}, nil
}

// newNormalizer layers the built-in merges, the threshold document's and the
// config file's, later tables winning.
func newNormalizer(th *threshold.Config) *matrix.Normalizer {
	return matrix.NewNormalizer(matrix.DefaultMerges(), th.LabelMerges(), cfg.Normalization.LabelMerges)
}

// optimizerOptions maps the optimizer config section onto search options.
func optimizerOptions(c config.OptimizerConfig) optimize.Options {
	return optimize.Options{
		MaxIterations: c.MaxIterations,
		Timeout:       c.Timeout(),
		Workers:       c.Workers,
		Step:          c.Step,
	}
}
