package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/threshold"
)

const question = "physicalConditionScratch"

func testConfig(t *testing.T) *threshold.Config {
	t.Helper()
	cfg, err := threshold.New(threshold.Document{
		Questions: map[string]threshold.QuestionDoc{
			question: {
				Severity: []string{"No Defect", "Defect"},
				Sides: map[string]map[string][2]int{
					"top":   {"No Defect": {0, 60}, "Defect": {61, 100}},
					"front": {"No Defect": {0, 70}, "Defect": {71, 100}},
				},
			},
		},
	})
	require.NoError(t, err)
	return cfg
}

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func rec(id, actual string, date time.Time, old, updated map[model.Side]float64) model.Record {
	return model.Record{
		ID:          id,
		QuoteDate:   date,
		FinalAnswer: actual,
		Scores:      model.NewSideScores(old),
		NewScores:   model.NewSideScores(updated),
	}
}

func fixture() []model.Record {
	return []model.Record{
		// Defect via front; correct.
		rec("a", "Defect", day(1), map[model.Side]float64{model.SideTop: 10, model.SideFront: 90}, map[model.Side]float64{model.SideFront: 95}),
		// Predicted Defect via top; wrong.
		rec("b", "No Defect", day(1), map[model.Side]float64{model.SideTop: 70}, map[model.Side]float64{model.SideTop: 20}),
		// No Defect; correct.
		rec("c", "No Defect", day(2), map[model.Side]float64{model.SideTop: 5}, map[model.Side]float64{model.SideTop: 5}),
		// Missed defect; wrong.
		rec("d", "Defect", day(2), map[model.Side]float64{model.SideFront: 40}, map[model.Side]float64{model.SideFront: 80}),
		// Unlabeled.
		rec("e", "", day(3), map[model.Side]float64{model.SideTop: 50}, nil),
		// Unscored.
		rec("f", "Defect", day(3), nil, nil),
	}
}

func TestAnalyze(t *testing.T) {
	rep, err := New(testConfig(t), question, nil).Analyze(context.Background(), fixture(), model.SourceDeployed)
	require.NoError(t, err)

	assert.Equal(t, Tally{Correct: 2, Total: 4, Accuracy: 0.5}, rep.Overall)
	assert.Equal(t, 1, rep.Unlabeled)
	assert.Equal(t, 1, rep.Unscored)

	require.Len(t, rep.Daily, 2)
	assert.Equal(t, "2025-03-01", rep.Daily[0].Date)
	assert.Equal(t, 2, rep.Daily[0].Total)
	assert.Equal(t, 1, rep.Daily[0].Correct)
	assert.Equal(t, "2025-03-02", rep.Daily[1].Date)

	require.Len(t, rep.Categories, 2)
	assert.Equal(t, "no defect", rep.Categories[0].Category)
	assert.Equal(t, Tally{Correct: 1, Total: 2, Accuracy: 0.5}, rep.Categories[0].Tally)
	assert.Equal(t, "defect", rep.Categories[1].Category)

	// Only sides rated above the baseline contribute: a (front) and b (top).
	require.Len(t, rep.Sides, 2)
	assert.Equal(t, SideAccuracy{Side: model.SideTop, Tally: Tally{Correct: 0, Total: 1, Accuracy: 0}}, rep.Sides[0])
	assert.Equal(t, SideAccuracy{Side: model.SideFront, Tally: Tally{Correct: 1, Total: 1, Accuracy: 1}}, rep.Sides[1])

	require.Len(t, rep.Misclassifications, 2)
	assert.Equal(t, Misclassification{Predicted: "defect", Actual: "no defect", Count: 1}, rep.Misclassifications[0])
	assert.Equal(t, Misclassification{Predicted: "no defect", Actual: "defect", Count: 1}, rep.Misclassifications[1])

	require.Len(t, rep.Distributions, 2)
	assert.Equal(t, model.SideTop, rep.Distributions[0].Side)
	assert.Equal(t, 4, rep.Distributions[0].Count)
	assert.Equal(t, model.SideFront, rep.Distributions[1].Side)
}

func TestAnalyze_NewModel(t *testing.T) {
	rep, err := New(testConfig(t), question, nil).Analyze(context.Background(), fixture(), model.SourceNew)
	require.NoError(t, err)
	assert.Equal(t, Tally{Correct: 4, Total: 4, Accuracy: 1}, rep.Overall)
	assert.Empty(t, rep.Misclassifications)
}

func TestAnalyze_TopN(t *testing.T) {
	rep, err := New(testConfig(t), question, nil).WithTopN(1).Analyze(context.Background(), fixture(), model.SourceDeployed)
	require.NoError(t, err)
	assert.Len(t, rep.Misclassifications, 1)
}

func TestAgreement(t *testing.T) {
	got, err := New(testConfig(t), question, nil).Agreement(fixture())
	require.NoError(t, err)

	// a: both right; b: only new; c: both right; d: only new.
	assert.Equal(t, 2, got.BothAgree)
	assert.Equal(t, 0, got.OnlyDeployed)
	assert.Equal(t, 2, got.OnlyNew)
	assert.Equal(t, 0, got.BothDisagree)
	assert.InDelta(t, 0.5, got.Rate, 1e-9)
}

func TestDescribe(t *testing.T) {
	d, err := Describe([]float64{0, 25, 50, 75, 100})
	require.NoError(t, err)

	assert.Equal(t, 5, d.Count)
	assert.InDelta(t, 50, d.Mean, 1e-9)
	assert.InDelta(t, 50, d.Median, 1e-9)
	assert.Equal(t, 0.0, d.Min)
	assert.Equal(t, 100.0, d.Max)
	require.Len(t, d.Histogram, HistogramBins)
	assert.Equal(t, 1, d.Histogram[0])
	assert.Equal(t, 1, d.Histogram[5])
	assert.Equal(t, 1, d.Histogram[10])
	assert.Equal(t, 1, d.Histogram[15])
	assert.Equal(t, 1, d.Histogram[HistogramBins-1])
}

func TestDescribe_Empty(t *testing.T) {
	_, err := Describe(nil)
	assert.Error(t, err)
}
