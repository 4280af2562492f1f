package delta

import (
	"github.com/sells-group/condition-eval/internal/matrix"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/threshold"
	"github.com/sells-group/condition-eval/internal/verdict"
)

// Snapshot is the labelling of a record set under one configuration. It is
// immutable once built and safe for concurrent use.
type Snapshot struct {
	engine  *Engine
	config  *threshold.Config
	order   []string
	records []model.Record

	// Per record: raw predicted label, its normalized form, and the
	// normalized actual label. Empty means unscored or unlabeled.
	predicted []string
	norm      []string
	actual    []string

	correct int
	total   int
}

// Config returns the configuration the snapshot was labelled under.
func (s *Snapshot) Config() *threshold.Config {
	return s.config
}

// Correct returns the number of labelled, scored records predicted correctly.
func (s *Snapshot) Correct() int {
	return s.correct
}

// Total returns the number of records that are both labelled and scored.
func (s *Snapshot) Total() int {
	return s.total
}

// Accuracy returns Correct/Total, or 0 when no record is usable.
func (s *Snapshot) Accuracy() float64 {
	return ratio(s.correct, s.total)
}

// Label returns the raw predicted label of record i.
func (s *Snapshot) Label(i int) string {
	return s.predicted[i]
}

// Matrix tabulates the snapshot on its own label universe.
func (s *Snapshot) Matrix() *matrix.Matrix {
	b := s.builder()
	t := s.tally()
	return b.Tabulate(t, b.Universe(t))
}

// Score is the usable-record tally of a candidate.
type Score struct {
	Correct int
	Total   int
}

// Accuracy returns Correct/Total, or 0 when no record is usable.
func (sc Score) Accuracy() float64 {
	return ratio(sc.Correct, sc.Total)
}

// Evaluate scores a candidate configuration without materializing matrices.
// Only records in changed bands are re-labelled.
func (s *Snapshot) Evaluate(candidate *threshold.Config) (Score, error) {
	sc := Score{Correct: s.correct, Total: s.total}
	diff, labeler, err := s.prepare(candidate)
	if err != nil {
		return Score{}, err
	}
	if diff.Empty() {
		return sc, nil
	}
	for i, rec := range s.records {
		if !diff.Affects(rec.ScoresFor(s.engine.source)) {
			continue
		}
		label, err := labeler.Final(rec)
		if err != nil && !model.IsMissingData(err) {
			return Score{}, err
		}
		if s.actual[i] == "" {
			continue
		}
		before, beforeOK := s.norm[i], s.norm[i] != ""
		after := s.normalize(label)
		afterOK := after != ""
		if beforeOK {
			sc.Total--
			if before == s.actual[i] {
				sc.Correct--
			}
		}
		if afterOK {
			sc.Total++
			if after == s.actual[i] {
				sc.Correct++
			}
		}
	}
	return sc, nil
}

// Delta labels the records under candidate, reusing this snapshot's labels
// outside the changed bands, and returns both matrices on a shared universe.
func (s *Snapshot) Delta(candidate *threshold.Config) (*Result, error) {
	diff, labeler, err := s.prepare(candidate)
	if err != nil {
		return nil, err
	}

	next := &Snapshot{
		engine:    s.engine,
		config:    candidate,
		order:     labeler.Question().Severity(),
		records:   s.records,
		predicted: append([]string(nil), s.predicted...),
		norm:      append([]string(nil), s.norm...),
		actual:    s.actual,
	}

	res := &Result{Question: s.engine.question}
	if !diff.Empty() {
		for i, rec := range s.records {
			if !diff.Affects(rec.ScoresFor(s.engine.source)) {
				continue
			}
			res.Reevaluated++
			label, err := labeler.Final(rec)
			if err != nil && !model.IsMissingData(err) {
				return nil, err
			}
			next.set(i, label)
			// Merged labels still count as changed verdicts.
			if !threshold.SameCategory(next.predicted[i], s.predicted[i]) {
				res.Changed = append(res.Changed, Change{
					RecordID: rec.ID,
					Before:   s.predicted[i],
					After:    next.predicted[i],
					Actual:   rec.FinalAnswer,
				})
			}
		}
	}
	next.count()

	b := s.builder()
	before, after := s.tally(), next.tally()
	universe := b.Universe(before, after)
	res.Before = b.Tabulate(before, universe)
	res.After = b.Tabulate(after, universe)
	res.AccuracyBefore = res.Before.Accuracy
	res.AccuracyAfter = res.After.Accuracy
	res.AccuracyDelta = res.AccuracyAfter - res.AccuracyBefore
	res.after = next
	return res, nil
}

func (s *Snapshot) prepare(candidate *threshold.Config) (threshold.Diff, *verdict.Labeler, error) {
	diff, err := threshold.DiffQuestion(s.config, candidate, s.engine.question)
	if err != nil {
		return threshold.Diff{}, nil, err
	}
	labeler, err := verdict.NewLabeler(candidate, s.engine.question, s.engine.source)
	if err != nil {
		return threshold.Diff{}, nil, err
	}
	return diff, labeler, nil
}

func (s *Snapshot) set(i int, label string) {
	if model.IsBlankLabel(label) {
		s.predicted[i], s.norm[i] = "", ""
		return
	}
	s.predicted[i] = label
	s.norm[i] = s.normalize(label)
}

func (s *Snapshot) normalize(label string) string {
	if model.IsBlankLabel(label) {
		return ""
	}
	return s.engine.normalizer.Normalize(s.engine.question, label)
}

func (s *Snapshot) count() {
	s.correct, s.total = 0, 0
	for i := range s.records {
		if s.actual[i] == "" || s.norm[i] == "" {
			continue
		}
		s.total++
		if s.norm[i] == s.actual[i] {
			s.correct++
		}
	}
}

func (s *Snapshot) builder() *matrix.Builder {
	return matrix.NewBuilder(s.engine.question, s.order, s.engine.normalizer)
}

// tally mirrors matrix.Builder.Collect over the stored labels.
func (s *Snapshot) tally() matrix.Tally {
	t := matrix.Tally{Observations: make([]matrix.Observation, 0, len(s.records))}
	for i, rec := range s.records {
		switch {
		case !rec.HasActual():
			t.Unlabeled++
		case s.predicted[i] == "":
			t.Unscored++
		default:
			t.Observations = append(t.Observations, matrix.Observation{
				RecordID:  rec.ID,
				Predicted: s.predicted[i],
				Actual:    rec.FinalAnswer,
			})
		}
	}
	return t
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
