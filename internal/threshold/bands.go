package threshold

import (
	"sort"

	"github.com/sells-group/condition-eval/internal/model"
)

// Band is a half-open score interval [Lo, Hi).
type Band struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Contains reports whether score lies in the band.
func (b Band) Contains(score float64) bool {
	return score >= b.Lo && score < b.Hi
}

// domainEnd is the exclusive upper edge of the score domain under the
// integer-floor matching rule of Range.Contains.
const domainEnd = model.MaxScore + 1

// ChangedBands returns the score intervals in which two range sets assign
// different categories. A nil or empty side on exactly one of the two
// changes the whole domain.
func ChangedBands(a, b []Range) []Band {
	switch {
	case len(a) == 0 && len(b) == 0:
		return nil
	case len(a) == 0 || len(b) == 0:
		return []Band{{Lo: model.MinScore, Hi: domainEnd}}
	}

	cuts := map[int]bool{model.MinScore: true, domainEnd: true}
	for _, r := range a {
		cuts[r.Min] = true
	}
	for _, r := range b {
		cuts[r.Min] = true
	}
	points := make([]int, 0, len(cuts))
	for p := range cuts {
		points = append(points, p)
	}
	sort.Ints(points)

	var out []Band
	for i := 0; i+1 < len(points); i++ {
		lo, hi := points[i], points[i+1]
		if labelKey(categoryAt(a, lo)) == labelKey(categoryAt(b, lo)) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Hi == float64(lo) {
			out[n-1].Hi = float64(hi)
			continue
		}
		out = append(out, Band{Lo: float64(lo), Hi: float64(hi)})
	}
	return out
}

func categoryAt(rs []Range, score int) string {
	for _, r := range rs {
		if r.Contains(float64(score)) {
			return r.Category
		}
	}
	return ""
}

// Diff describes where two configurations can label a record differently for
// one question.
type Diff struct {
	// All is set when the difference is not confined to score bands, e.g. the
	// severity order changed, so every record must be re-evaluated.
	All   bool
	Bands [model.NumSides][]Band
}

// DiffQuestion compares one question across two configurations.
func DiffQuestion(a, b *Config, question string) (Diff, error) {
	qa, err := a.Question(question)
	if err != nil {
		return Diff{}, err
	}
	qb, err := b.Question(question)
	if err != nil {
		return Diff{}, err
	}

	var d Diff
	if qa.name != qb.name || len(qa.severity) != len(qb.severity) {
		d.All = true
		return d, nil
	}
	for i := range qa.severity {
		if labelKey(qa.severity[i]) != labelKey(qb.severity[i]) {
			d.All = true
			return d, nil
		}
	}
	for _, side := range model.AllSides() {
		d.Bands[side] = ChangedBands(qa.sides[side], qb.sides[side])
	}
	return d, nil
}

// Empty reports whether the two configurations label every record alike.
func (d Diff) Empty() bool {
	if d.All {
		return false
	}
	for _, bs := range d.Bands {
		if len(bs) > 0 {
			return false
		}
	}
	return true
}

// Affects reports whether a record with these scores may be labelled
// differently under the two configurations.
func (d Diff) Affects(scores model.SideScores) bool {
	if d.All {
		return true
	}
	for side, bands := range d.Bands {
		if len(bands) == 0 {
			continue
		}
		v, ok := scores.Get(model.Side(side))
		if !ok {
			continue
		}
		for _, b := range bands {
			if b.Contains(v) {
				return true
			}
		}
	}
	return false
}
