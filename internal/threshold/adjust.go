package threshold

import (
	"github.com/sells-group/condition-eval/internal/model"
)

// Adjust repairs hand-edited ranges into a contiguous tiling of the score
// domain. Categories keep their given order; the first starts at MinScore,
// each later one starts right after its predecessor, the last ends at
// MaxScore, and every category keeps at least one score. Requested upper
// bounds are honored where they fit.
func Adjust(ranges []Range) []Range {
	n := len(ranges)
	if n == 0 {
		return nil
	}
	out := make([]Range, n)
	copy(out, ranges)
	if n == 1 || n > model.MaxScore-model.MinScore+1 {
		if n == 1 {
			out[0].Min, out[0].Max = model.MinScore, model.MaxScore
		}
		return out
	}

	lo := model.MinScore
	for i := 0; i < n-1; i++ {
		// Leave one score for each category still to come.
		hi := model.MaxScore - (n - 1 - i)
		out[i].Min = lo
		out[i].Max = clamp(ranges[i].Max, lo, hi)
		lo = out[i].Max + 1
	}
	out[n-1].Min = lo
	out[n-1].Max = model.MaxScore
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
