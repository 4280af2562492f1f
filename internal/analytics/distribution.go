package analytics

import (
	"github.com/montanaflynn/stats"
	"github.com/rotisserie/eris"

	"github.com/sells-group/condition-eval/internal/model"
)

// HistogramBins is the number of equal-width bins over the score domain.
const HistogramBins = 20

// Distribution summarizes one side's scores from one model.
type Distribution struct {
	Side      model.Side   `json:"side"`
	Source    model.Source `json:"source"`
	Count     int          `json:"count"`
	Mean      float64      `json:"mean"`
	StdDev    float64      `json:"std_dev"`
	Min       float64      `json:"min"`
	Max       float64      `json:"max"`
	Median    float64      `json:"median"`
	Q25       float64      `json:"q25"`
	Q75       float64      `json:"q75"`
	Histogram []int        `json:"histogram"`
}

// Describe computes summary statistics and a histogram of scores. Values
// outside the score domain are clamped into the edge bins.
func Describe(values []float64) (Distribution, error) {
	d := Distribution{Count: len(values)}
	data := stats.Float64Data(values)

	var err error
	if d.Mean, err = stats.Mean(data); err != nil {
		return d, eris.Wrap(err, "analytics: mean")
	}
	if d.StdDev, err = stats.StandardDeviation(data); err != nil {
		return d, eris.Wrap(err, "analytics: standard deviation")
	}
	if d.Min, err = stats.Min(data); err != nil {
		return d, eris.Wrap(err, "analytics: min")
	}
	if d.Max, err = stats.Max(data); err != nil {
		return d, eris.Wrap(err, "analytics: max")
	}
	if d.Median, err = stats.Median(data); err != nil {
		return d, eris.Wrap(err, "analytics: median")
	}
	if d.Q25, err = stats.Percentile(data, 25); err != nil {
		return d, eris.Wrap(err, "analytics: 25th percentile")
	}
	if d.Q75, err = stats.Percentile(data, 75); err != nil {
		return d, eris.Wrap(err, "analytics: 75th percentile")
	}

	d.Histogram = make([]int, HistogramBins)
	width := float64(model.MaxScore-model.MinScore) / HistogramBins
	for _, v := range values {
		bin := int((v - model.MinScore) / width)
		if bin < 0 {
			bin = 0
		}
		if bin >= HistogramBins {
			bin = HistogramBins - 1
		}
		d.Histogram[bin]++
	}
	return d, nil
}
