package verdict

import (
	"errors"

	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/threshold"
)

// Result is the classification of one record under one configuration.
type Result struct {
	RecordID     string                `json:"record_id"`
	SideLabels   map[model.Side]string `json:"side_labels"`
	Contributing []model.Side          `json:"contributing_sides"`
	Driving      []model.Side          `json:"driving_sides"`
	Final        string                `json:"final_label"`
	// Missing lists configured sides skipped for an absent or out-of-domain score.
	Missing []model.Side `json:"missing_sides,omitempty"`
}

// Labeler classifies records for one question from one model's scores.
type Labeler struct {
	question *threshold.Question
	source   model.Source
}

// NewLabeler binds a configuration, question and score source.
func NewLabeler(cfg *threshold.Config, question string, source model.Source) (*Labeler, error) {
	q, err := cfg.Question(question)
	if err != nil {
		return nil, err
	}
	return &Labeler{question: q, source: source}, nil
}

// Question returns the resolved question.
func (l *Labeler) Question() *threshold.Question {
	return l.question
}

// Source returns the score source the labeler reads.
func (l *Labeler) Source() model.Source {
	return l.source
}

// Label classifies every configured side of the record and aggregates. A
// record with no usable side score yields a *model.MissingDataError together
// with a Result listing the missing sides.
func (l *Labeler) Label(rec model.Record) (Result, error) {
	scores := rec.ScoresFor(l.source)
	res := Result{
		RecordID:   rec.ID,
		SideLabels: make(map[model.Side]string, model.NumSides),
	}

	for _, side := range l.question.Sides() {
		sc := scores[side]
		if !sc.InDomain() {
			res.Missing = append(res.Missing, side)
			continue
		}
		label, err := l.question.Classify(side, sc.Value)
		if err != nil {
			return Result{}, err
		}
		res.SideLabels[side] = label
	}

	v, err := aggregate(res.SideLabels, l.question.Rank)
	if err != nil {
		var me *model.MissingDataError
		if errors.As(err, &me) {
			me.RecordID = rec.ID
		}
		var ce *model.ConfigurationError
		if errors.As(err, &ce) {
			ce.Question = l.question.Name()
		}
		return res, err
	}
	res.Final = v.Label
	res.Contributing = v.Contributing
	res.Driving = v.Driving
	return res, nil
}

// Final returns only the aggregated label; it has the shape the matrix
// builder expects of a label function.
func (l *Labeler) Final(rec model.Record) (string, error) {
	res, err := l.Label(rec)
	if err != nil {
		return "", err
	}
	return res.Final, nil
}

// LabelAll classifies a record set. Records without usable scores keep their
// partial Result and are counted in unscored; configuration errors abort.
func (l *Labeler) LabelAll(records []model.Record) (results []Result, unscored int, err error) {
	results = make([]Result, len(records))
	for i, rec := range records {
		res, err := l.Label(rec)
		if err != nil {
			if model.IsMissingData(err) {
				results[i] = res
				unscored++
				continue
			}
			return nil, 0, err
		}
		results[i] = res
	}
	return results, unscored, nil
}
