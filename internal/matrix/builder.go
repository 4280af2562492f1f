package matrix

import (
	"sort"

	"github.com/sells-group/condition-eval/internal/model"
)

// LabelFunc predicts a record's label. Returning a *model.MissingDataError
// marks the record unscored; any other error aborts the build.
type LabelFunc func(model.Record) (string, error)

// Observation is one tabulatable (predicted, actual) pair. Labels are raw;
// the Builder normalizes them.
type Observation struct {
	RecordID  string
	Predicted string
	Actual    string
}

// Tally is the collected input of one matrix.
type Tally struct {
	Observations []Observation
	Unlabeled    int
	Unscored     int
}

// Builder tabulates records for one question. order is the preferred label
// order (typically the question's severity order); labels outside it are
// appended sorted.
type Builder struct {
	question   string
	order      []string
	normalizer *Normalizer
}

// NewBuilder returns a Builder. A nil normalizer uses the built-in merges.
func NewBuilder(question string, order []string, normalizer *Normalizer) *Builder {
	if normalizer == nil {
		normalizer = NewNormalizer(DefaultMerges())
	}
	return &Builder{question: question, order: order, normalizer: normalizer}
}

// Normalizer returns the label normalizer in use.
func (b *Builder) Normalizer() *Normalizer {
	return b.normalizer
}

// Build predicts every record and tabulates against its final answer.
func (b *Builder) Build(records []model.Record, fn LabelFunc) (*Matrix, error) {
	t, err := b.Collect(records, fn)
	if err != nil {
		return nil, err
	}
	return b.Tabulate(t, b.Universe(t)), nil
}

// BuildPair builds two matrices over the same records, e.g. deployed-model
// and new-model labels, sharing one label universe so they are directly
// comparable.
func (b *Builder) BuildPair(records []model.Record, first, second LabelFunc) (*Matrix, *Matrix, error) {
	ta, err := b.Collect(records, first)
	if err != nil {
		return nil, nil, err
	}
	tb, err := b.Collect(records, second)
	if err != nil {
		return nil, nil, err
	}
	universe := b.Universe(ta, tb)
	return b.Tabulate(ta, universe), b.Tabulate(tb, universe), nil
}

// Collect runs fn over the records. Every record is predicted first so a
// configuration error surfaces even on records without ground truth.
func (b *Builder) Collect(records []model.Record, fn LabelFunc) (Tally, error) {
	t := Tally{Observations: make([]Observation, 0, len(records))}
	for _, rec := range records {
		predicted, err := fn(rec)
		if err != nil && !model.IsMissingData(err) {
			return Tally{}, err
		}
		switch {
		case !rec.HasActual():
			t.Unlabeled++
		case err != nil || model.IsBlankLabel(predicted):
			t.Unscored++
		default:
			t.Observations = append(t.Observations, Observation{
				RecordID:  rec.ID,
				Predicted: predicted,
				Actual:    rec.FinalAnswer,
			})
		}
	}
	return t, nil
}

// Universe returns the normalized label set of the tallies: labels from the
// preferred order first, then the rest sorted.
func (b *Builder) Universe(tallies ...Tally) []string {
	present := make(map[string]bool)
	for _, t := range tallies {
		for _, o := range t.Observations {
			present[b.normalizer.Normalize(b.question, o.Predicted)] = true
			present[b.normalizer.Normalize(b.question, o.Actual)] = true
		}
	}

	labels := make([]string, 0, len(present))
	placed := make(map[string]bool, len(present))
	for _, cat := range b.order {
		n := b.normalizer.Normalize(b.question, cat)
		if present[n] && !placed[n] {
			labels = append(labels, n)
			placed[n] = true
		}
	}
	var rest []string
	for l := range present {
		if !placed[l] {
			rest = append(rest, l)
		}
	}
	sort.Strings(rest)
	return append(labels, rest...)
}

// Tabulate fills a matrix over the given universe. Observations whose labels
// fall outside the universe are ignored.
func (b *Builder) Tabulate(t Tally, universe []string) *Matrix {
	n := len(universe)
	m := &Matrix{
		Question:    b.question,
		Labels:      append([]string(nil), universe...),
		Counts:      make([][]int, n),
		CellRecords: make([][][]string, n),
		Unlabeled:   t.Unlabeled,
		Unscored:    t.Unscored,
	}
	idx := make(map[string]int, n)
	for i, l := range universe {
		idx[l] = i
		m.Counts[i] = make([]int, n)
		m.CellRecords[i] = make([][]string, n)
	}

	for _, o := range t.Observations {
		a, okA := idx[b.normalizer.Normalize(b.question, o.Actual)]
		p, okP := idx[b.normalizer.Normalize(b.question, o.Predicted)]
		if !okA || !okP {
			continue
		}
		m.Counts[a][p]++
		m.CellRecords[a][p] = append(m.CellRecords[a][p], o.RecordID)
		m.Total++
		if a == p {
			m.Correct++
		}
	}

	m.HasData = m.Total > 0
	if m.HasData {
		m.Accuracy = float64(m.Correct) / float64(m.Total)
	}
	return m
}
