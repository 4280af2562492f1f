package threshold

import (
	"fmt"
	"math"

	"github.com/sells-group/condition-eval/internal/model"
)

// Classify returns the category of the unique range containing score. It does
// not assume the ranges were validated: zero matches (a gap, or a score
// outside the domain) and multiple matches (an overlap) are both reported as
// a *model.ConfigurationError carrying the offending score.
func Classify(score float64, ranges []Range) (string, error) {
	if math.IsNaN(score) || score < model.MinScore || score > model.MaxScore {
		return "", &model.ConfigurationError{
			Score:  &score,
			Reason: fmt.Sprintf("score outside [%d, %d]", model.MinScore, model.MaxScore),
		}
	}

	match := -1
	for i, r := range ranges {
		if !r.Contains(score) {
			continue
		}
		if match >= 0 {
			return "", &model.ConfigurationError{
				Category: r.Category,
				Score:    &score,
				Reason:   fmt.Sprintf("score matches both %q and %q", ranges[match].Category, r.Category),
			}
		}
		match = i
	}
	if match < 0 {
		return "", &model.ConfigurationError{Score: &score, Reason: "score matches no range"}
	}
	return ranges[match].Category, nil
}
