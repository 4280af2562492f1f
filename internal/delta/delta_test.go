package delta

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/threshold"
)

const question = "physicalConditionScratch"

func baselineConfig(t *testing.T) *threshold.Config {
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

func scored(id, actual string, scores map[model.Side]float64) model.Record {
	return model.Record{ID: id, FinalAnswer: actual, Scores: model.NewSideScores(scores)}
}

func TestDelta_WorkedExample(t *testing.T) {
	base := baselineConfig(t)
	cand, err := base.WithBoundaries(question, model.SideFront, []int{76})
	require.NoError(t, err)

	records := []model.Record{
		scored("r73", "No Defect", map[model.Side]float64{model.SideFront: 73}),
		scored("r80", "Defect", map[model.Side]float64{model.SideFront: 80}),
		scored("r10", "No Defect", map[model.Side]float64{model.SideTop: 10, model.SideFront: 10}),
		scored("r65", "Defect", map[model.Side]float64{model.SideTop: 65}),
	}

	e := NewEngine(question, model.SourceDeployed, nil)
	res, err := e.Delta(records, base, cand)
	require.NoError(t, err)

	require.Len(t, res.Changed, 1)
	assert.Equal(t, Change{RecordID: "r73", Before: "Defect", After: "No Defect", Actual: "No Defect"}, res.Changed[0])
	assert.Equal(t, []string{"r73"}, res.ChangedIDs())
	assert.Equal(t, 1, res.Reevaluated)
	assert.InDelta(t, 0.75, res.AccuracyBefore, 1e-9)
	assert.InDelta(t, 1.0, res.AccuracyAfter, 1e-9)
	assert.InDelta(t, 0.25, res.AccuracyDelta, 1e-9)
	assert.Equal(t, res.Before.Labels, res.After.Labels)

	full, err := e.Snapshot(records, cand)
	require.NoError(t, err)
	assert.Equal(t, full.Matrix().Accuracy, res.AccuracyAfter)
	assert.Equal(t, full.Correct(), res.After.Correct)
}

func TestDelta_SameConfigIsEmpty(t *testing.T) {
	cfg := baselineConfig(t)
	records := []model.Record{
		scored("a", "Defect", map[model.Side]float64{model.SideTop: 90}),
		scored("b", "No Defect", map[model.Side]float64{model.SideFront: 90}),
	}

	res, err := NewEngine(question, model.SourceDeployed, nil).Delta(records, cfg, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Changed)
	assert.Zero(t, res.AccuracyDelta)
	assert.Zero(t, res.Reevaluated)
	assert.Equal(t, res.Before, res.After)
}

func TestDelta_MatchesFullRecompute(t *testing.T) {
	base := baselineConfig(t)
	rng := rand.New(rand.NewPCG(7, 11))

	records := make([]model.Record, 300)
	for i := range records {
		scores := map[model.Side]float64{}
		if rng.IntN(4) > 0 {
			scores[model.SideTop] = float64(rng.IntN(101))
		}
		if rng.IntN(4) > 0 {
			scores[model.SideFront] = rng.Float64() * 100
		}
		actual := "No Defect"
		switch rng.IntN(5) {
		case 0:
			actual = ""
		case 1, 2:
			actual = "Defect"
		}
		records[i] = scored(fmt.Sprintf("r%03d", i), actual, scores)
	}

	e := NewEngine(question, model.SourceDeployed, nil)
	snap, err := e.Snapshot(records, base)
	require.NoError(t, err)

	for _, tc := range []struct {
		side model.Side
		min  int
	}{
		{model.SideFront, 50},
		{model.SideFront, 95},
		{model.SideTop, 1},
		{model.SideTop, 100},
	} {
		t.Run(fmt.Sprintf("%s_%d", tc.side, tc.min), func(t *testing.T) {
			cand, err := base.WithBoundaries(question, tc.side, []int{tc.min})
			require.NoError(t, err)

			res, err := e.DeltaFrom(snap, cand)
			require.NoError(t, err)
			full, err := e.Snapshot(records, cand)
			require.NoError(t, err)

			assert.Equal(t, full.Correct(), res.After.Correct)
			assert.Equal(t, full.Total(), res.After.Total)
			assert.InDelta(t, full.Accuracy(), res.AccuracyAfter, 1e-12)
			for i := range records {
				assert.Equal(t, full.Label(i), res.Snapshot().Label(i), "record %s", records[i].ID)
			}

			score, err := snap.Evaluate(cand)
			require.NoError(t, err)
			assert.Equal(t, full.Correct(), score.Correct)
			assert.Equal(t, full.Total(), score.Total)
		})
	}
}

func TestDelta_DoesNotMutateInputs(t *testing.T) {
	base := baselineConfig(t)
	cand, err := base.WithBoundaries(question, model.SideTop, []int{30})
	require.NoError(t, err)
	baseDoc, candDoc := base.Document(), cand.Document()

	records := []model.Record{
		scored("a", "Defect", map[model.Side]float64{model.SideTop: 40}),
	}
	before := append([]model.Record(nil), records...)

	e := NewEngine(question, model.SourceDeployed, nil)
	first, err := e.Delta(records, base, cand)
	require.NoError(t, err)
	second, err := e.Delta(records, base, cand)
	require.NoError(t, err)

	assert.Equal(t, first.Changed, second.Changed)
	assert.Equal(t, first.After, second.After)
	assert.Equal(t, before, records)
	assert.Equal(t, baseDoc, base.Document())
	assert.Equal(t, candDoc, cand.Document())
}

func TestDelta_NewModelScores(t *testing.T) {
	base := baselineConfig(t)
	cand, err := base.WithBoundaries(question, model.SideTop, []int{20})
	require.NoError(t, err)

	rec := model.Record{
		ID:          "a",
		FinalAnswer: "Defect",
		Scores:      model.NewSideScores(map[model.Side]float64{model.SideTop: 90}),
		NewScores:   model.NewSideScores(map[model.Side]float64{model.SideTop: 30}),
	}
	res, err := NewEngine(question, model.SourceNew, nil).Delta([]model.Record{rec}, base, cand)
	require.NoError(t, err)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "No Defect", res.Changed[0].Before)
	assert.Equal(t, "Defect", res.Changed[0].After)
}

func TestDelta_MergedLabelsStillChange(t *testing.T) {
	const panel = "physicalConditionPanel"
	sides := map[string]map[string][2]int{
		"back": {"no defect": {0, 55}, "glass panel damaged": {56, 80}, "cracked or broken panel": {81, 100}},
	}
	base, err := threshold.New(threshold.Document{Questions: map[string]threshold.QuestionDoc{
		panel: {Severity: []string{"no defect", "glass panel damaged", "cracked or broken panel"}, Sides: sides},
	}})
	require.NoError(t, err)
	cand, err := base.WithBoundaries(panel, model.SideBack, []int{56, 71})
	require.NoError(t, err)

	records := []model.Record{
		scored("p75", "cracked or broken panel", map[model.Side]float64{model.SideBack: 75}),
		scored("p20", "no defect", map[model.Side]float64{model.SideBack: 20}),
	}
	res, err := NewEngine(panel, model.SourceDeployed, nil).Delta(records, base, cand)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Reevaluated)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, Change{
		RecordID: "p75",
		Before:   "glass panel damaged",
		After:    "cracked or broken panel",
		Actual:   "cracked or broken panel",
	}, res.Changed[0])
	// Both labels merge to the same class, so the tallies do not move.
	assert.InDelta(t, 1.0, res.AccuracyBefore, 1e-9)
	assert.Zero(t, res.AccuracyDelta)
}

func TestDelta_UnknownQuestion(t *testing.T) {
	cfg := baselineConfig(t)
	_, err := NewEngine("physicalConditionPanel", model.SourceDeployed, nil).Delta(nil, cfg, cfg)
	require.Error(t, err)
	assert.True(t, model.IsConfiguration(err))
}
