// Package delta compares labelling under two threshold configurations,
// re-evaluating only the records whose scores fall in a changed band.
package delta

import (
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/matrix"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/threshold"
	"github.com/sells-group/condition-eval/internal/verdict"
)

// Change is one record whose aggregated label differs between configurations.
// An empty Before or After means the record had no usable prediction.
type Change struct {
	RecordID string `json:"record_id"`
	Before   string `json:"before"`
	After    string `json:"after"`
	Actual   string `json:"actual,omitempty"`
}

// Result is the outcome of comparing a baseline and a candidate.
type Result struct {
	Question       string         `json:"question"`
	Changed        []Change       `json:"changed"`
	Before         *matrix.Matrix `json:"before"`
	After          *matrix.Matrix `json:"after"`
	AccuracyBefore float64        `json:"accuracy_before"`
	AccuracyAfter  float64        `json:"accuracy_after"`
	AccuracyDelta  float64        `json:"accuracy_delta"`
	// Reevaluated counts records re-labelled under the candidate; the rest
	// reused their baseline label.
	Reevaluated int `json:"reevaluated"`

	after *Snapshot
}

// Snapshot returns the candidate's labelling, usable as the baseline of the
// next comparison.
func (r *Result) Snapshot() *Snapshot {
	return r.after
}

// ChangedIDs returns the IDs of the changed records in record order.
func (r *Result) ChangedIDs() []string {
	out := make([]string, len(r.Changed))
	for i, c := range r.Changed {
		out[i] = c.RecordID
	}
	return out
}

// Engine labels records for one question from one model's scores.
type Engine struct {
	question   string
	source     model.Source
	normalizer *matrix.Normalizer
}

// NewEngine returns an Engine. A nil normalizer uses the built-in merges.
func NewEngine(question string, source model.Source, normalizer *matrix.Normalizer) *Engine {
	if normalizer == nil {
		normalizer = matrix.NewNormalizer(matrix.DefaultMerges())
	}
	return &Engine{question: question, source: source, normalizer: normalizer}
}

// Question returns the question the engine labels.
func (e *Engine) Question() string {
	return e.question
}

// Delta labels records under both configurations and reports what changed.
// Neither configuration nor the records are modified.
func (e *Engine) Delta(records []model.Record, baseline, candidate *threshold.Config) (*Result, error) {
	snap, err := e.Snapshot(records, baseline)
	if err != nil {
		return nil, err
	}
	res, err := snap.Delta(candidate)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("delta: computed",
		zap.String("question", e.question),
		zap.Int("records", len(records)),
		zap.Int("reevaluated", res.Reevaluated),
		zap.Int("changed", len(res.Changed)),
		zap.Float64("accuracy_delta", res.AccuracyDelta),
	)
	return res, nil
}

// DeltaFrom compares a previously computed snapshot against a candidate.
func (e *Engine) DeltaFrom(snap *Snapshot, candidate *threshold.Config) (*Result, error) {
	return snap.Delta(candidate)
}

// Snapshot labels every record under cfg.
func (e *Engine) Snapshot(records []model.Record, cfg *threshold.Config) (*Snapshot, error) {
	labeler, err := verdict.NewLabeler(cfg, e.question, e.source)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		engine:    e,
		config:    cfg,
		order:     labeler.Question().Severity(),
		records:   records,
		predicted: make([]string, len(records)),
		norm:      make([]string, len(records)),
		actual:    make([]string, len(records)),
	}
	for i, rec := range records {
		label, err := labeler.Final(rec)
		if err != nil && !model.IsMissingData(err) {
			return nil, err
		}
		s.set(i, label)
		if rec.HasActual() {
			s.actual[i] = e.normalizer.Normalize(e.question, rec.FinalAnswer)
		}
	}
	s.count()
	return s, nil
}
