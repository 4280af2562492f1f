// Package verdict combines per-side categories into one final label per record.
package verdict

import (
	"strings"

	"github.com/sells-group/condition-eval/internal/model"
)

// Verdict is the aggregate of one record's per-side labels.
type Verdict struct {
	// Label is the most severe label among the present sides.
	Label string
	// Contributing lists every side whose label is not the least severe
	// category, in canonical side order.
	Contributing []model.Side
	// Driving lists the sides whose label equals Label, in canonical order.
	// When Label is the least severe category no side drives the verdict.
	Driving []model.Side
}

// Aggregate picks the most severe of the per-side labels. severity is the
// question's category order, least severe first; labels are matched against
// it case-insensitively. Sides are visited in canonical order so the result
// never depends on map iteration.
func Aggregate(perSide map[model.Side]string, severity []string) (Verdict, error) {
	if len(severity) == 0 {
		return Verdict{}, &model.ConfigurationError{Reason: "empty severity order"}
	}
	rank := make(map[string]int, len(severity))
	for i, cat := range severity {
		rank[key(cat)] = i
	}
	return aggregate(perSide, func(label string) (int, bool) {
		r, ok := rank[key(label)]
		return r, ok
	})
}

// aggregate is Aggregate over a rank lookup, so callers holding a resolved
// question avoid rebuilding the rank table per record.
func aggregate(perSide map[model.Side]string, rankOf func(string) (int, bool)) (Verdict, error) {
	if len(perSide) == 0 {
		return Verdict{}, &model.MissingDataError{Field: "side score"}
	}

	var ranks [model.NumSides]int
	best := -1
	var v Verdict
	for _, side := range model.AllSides() {
		label, ok := perSide[side]
		if !ok {
			continue
		}
		r, known := rankOf(label)
		if !known {
			return Verdict{}, &model.ConfigurationError{
				Side:     side.String(),
				Category: label,
				Reason:   "label missing from severity order",
			}
		}
		ranks[side] = r
		if r > best {
			best = r
			v.Label = label
		}
		if r > 0 {
			v.Contributing = append(v.Contributing, side)
		}
	}

	if best > 0 {
		for _, side := range v.Contributing {
			if ranks[side] == best {
				v.Driving = append(v.Driving, side)
			}
		}
	}
	return v, nil
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
