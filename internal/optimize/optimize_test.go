package optimize

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/condition-eval/internal/delta"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/threshold"
)

const (
	scratch = "physicalConditionScratch"
	panel   = "physicalConditionPanel"
)

func scratchConfig(t *testing.T) *threshold.Config {
	t.Helper()
	cfg, err := threshold.New(threshold.Document{
		Questions: map[string]threshold.QuestionDoc{
			scratch: {
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

func panelConfig(t *testing.T) *threshold.Config {
	t.Helper()
	cfg, err := threshold.New(threshold.Document{
		Questions: map[string]threshold.QuestionDoc{
			panel: {
				Severity: []string{"no defect", "minor", "major"},
				Sides: map[string]map[string][2]int{
					"top":  {"no defect": {0, 39}, "minor": {40, 69}, "major": {70, 100}},
					"back": {"no defect": {0, 49}, "minor": {50, 79}, "major": {80, 100}},
				},
			},
		},
	})
	require.NoError(t, err)
	return cfg
}

// panelRecords draws scores whose true cut points differ from panelConfig.
func panelRecords(n int, seed uint64) []model.Record {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	grade := func(v float64, lo, hi float64) string {
		switch {
		case v >= hi:
			return "major"
		case v >= lo:
			return "minor"
		}
		return "no defect"
	}
	out := make([]model.Record, n)
	for i := range out {
		side := model.SideTop
		lo, hi := 30.0, 60.0
		if rng.IntN(2) == 0 {
			side = model.SideBack
			lo, hi = 55.0, 85.0
		}
		v := float64(rng.IntN(101))
		actual := grade(v, lo, hi)
		if rng.IntN(10) == 0 {
			actual = "no defect"
		}
		out[i] = model.Record{
			ID:          fmt.Sprintf("p%04d", i),
			FinalAnswer: actual,
			Scores:      model.NewSideScores(map[model.Side]float64{side: v}),
		}
	}
	return out
}

func accuracyOf(t *testing.T, records []model.Record, cfg *threshold.Config, question string) float64 {
	t.Helper()
	snap, err := delta.NewEngine(question, model.SourceDeployed, nil).Snapshot(records, cfg)
	require.NoError(t, err)
	return snap.Accuracy()
}

func TestOptimizeSide_FindsBoundary(t *testing.T) {
	var records []model.Record
	for v := 72; v <= 90; v++ {
		actual := "No Defect"
		if v >= 80 {
			actual = "Defect"
		}
		records = append(records, model.Record{
			ID:          fmt.Sprintf("f%d", v),
			FinalAnswer: actual,
			Scores:      model.NewSideScores(map[model.Side]float64{model.SideFront: float64(v)}),
		})
	}
	cfg := scratchConfig(t)
	opt := New(delta.NewEngine(scratch, model.SourceDeployed, nil), Options{Workers: 4})

	res, err := opt.OptimizeSide(context.Background(), records, cfg, model.SideFront)
	require.NoError(t, err)

	q, err := res.Config.Question(scratch)
	require.NoError(t, err)
	assert.Equal(t, []int{80}, q.Boundaries(model.SideFront))
	assert.Equal(t, []int{61}, q.Boundaries(model.SideTop))
	assert.InDelta(t, 1.0, res.Accuracy, 1e-9)
	assert.InDelta(t, 11.0/19.0, res.AccuracyBefore, 1e-9)
	assert.InDelta(t, res.Accuracy-res.AccuracyBefore, res.Delta, 1e-9)
	assert.Len(t, res.Changed, 8)
	assert.True(t, res.Improved)
	assert.Equal(t, "front", res.Side)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.TimedOut)

	// Input configuration is untouched.
	orig, err := cfg.Question(scratch)
	require.NoError(t, err)
	assert.Equal(t, []int{71}, orig.Boundaries(model.SideFront))
}

func TestOptimizeSide_TiesKeepClosestBoundary(t *testing.T) {
	top := func(id string, v float64, actual string) model.Record {
		return model.Record{
			ID:          id,
			FinalAnswer: actual,
			Scores:      model.NewSideScores(map[model.Side]float64{model.SideTop: v}),
		}
	}
	tests := []struct {
		name     string
		records  []model.Record
		want     []int
		improved bool
	}{
		{
			// Every boundary in [11, 90] scores 100%; the input 61 stays.
			name: "input already optimal",
			records: []model.Record{
				top("lo", 10, "No Defect"),
				top("hi", 90, "Defect"),
			},
			want: []int{61},
		},
		{
			// Boundaries in [6, 50] all score 100%; 50 is nearest to 61.
			name: "closest optimum wins",
			records: []model.Record{
				top("lo", 5, "No Defect"),
				top("mid", 50, "Defect"),
				top("hi", 95, "Defect"),
			},
			want:     []int{50},
			improved: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := New(delta.NewEngine(scratch, model.SourceDeployed, nil), Options{Workers: 4})
			res, err := opt.OptimizeSide(context.Background(), tt.records, scratchConfig(t), model.SideTop)
			require.NoError(t, err)

			q, err := res.Config.Question(scratch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Boundaries(model.SideTop))
			assert.InDelta(t, 1.0, res.Accuracy, 1e-9)
			assert.Equal(t, tt.improved, res.Improved)
		})
	}
}

func TestOptimizeAll_Monotonic(t *testing.T) {
	for _, seed := range []uint64{1, 2, 3} {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			records := panelRecords(400, seed)
			cfg := panelConfig(t)
			before := accuracyOf(t, records, cfg, panel)

			res, err := New(delta.NewEngine(panel, model.SourceDeployed, nil), Options{Workers: 3}).
				OptimizeAll(context.Background(), records, cfg)
			require.NoError(t, err)

			assert.GreaterOrEqual(t, res.Accuracy, before)
			assert.InDelta(t, before, res.AccuracyBefore, 1e-12)
			assert.InDelta(t, accuracyOf(t, records, res.Config, panel), res.Accuracy, 1e-12)

			// The result is a valid configuration: rebuilding from its
			// document succeeds.
			_, err = threshold.New(res.Thresholds)
			require.NoError(t, err)
		})
	}
}

func TestOptimizeAll_DeterministicAcrossWorkers(t *testing.T) {
	records := panelRecords(300, 42)
	cfg := panelConfig(t)
	engine := delta.NewEngine(panel, model.SourceDeployed, nil)

	serial, err := New(engine, Options{Workers: 1}).OptimizeAll(context.Background(), records, cfg)
	require.NoError(t, err)
	parallel, err := New(engine, Options{Workers: 8}).OptimizeAll(context.Background(), records, cfg)
	require.NoError(t, err)

	assert.True(t, serial.Config.Equal(parallel.Config))
	assert.Equal(t, serial.Accuracy, parallel.Accuracy)
	assert.Equal(t, serial.Changed, parallel.Changed)
	assert.Equal(t, serial.Evaluations, parallel.Evaluations)
	assert.NotEqual(t, serial.RunID, parallel.RunID)
}

func TestOptimize_NoUsableData(t *testing.T) {
	cfg := scratchConfig(t)
	records := []model.Record{
		{ID: "unlabeled", Scores: model.NewSideScores(map[model.Side]float64{model.SideTop: 50})},
		{ID: "unscored", FinalAnswer: "Defect"},
	}

	res, err := New(delta.NewEngine(scratch, model.SourceDeployed, nil), Options{}).
		OptimizeAll(context.Background(), records, cfg)
	require.NoError(t, err)
	assert.Same(t, cfg, res.Config)
	assert.Zero(t, res.Delta)
	assert.Empty(t, res.Changed)
	assert.False(t, res.Improved)
}

func TestOptimize_Canceled(t *testing.T) {
	cfg := panelConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(delta.NewEngine(panel, model.SourceDeployed, nil), Options{}).
		OptimizeAll(ctx, panelRecords(100, 5), cfg)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Config.Equal(cfg))
	assert.Zero(t, res.Delta)
	assert.False(t, res.TimedOut)
}

func TestOptimize_TimeoutReturnsBestSoFar(t *testing.T) {
	records := panelRecords(400, 9)
	cfg := panelConfig(t)
	before := accuracyOf(t, records, cfg, panel)

	calls := 0
	opts := Options{
		Timeout: 5 * time.Millisecond,
		Progress: func(Progress) {
			calls++
			time.Sleep(10 * time.Millisecond)
		},
	}
	res, err := New(delta.NewEngine(panel, model.SourceDeployed, nil), opts).
		OptimizeAll(context.Background(), records, cfg)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.GreaterOrEqual(t, res.Accuracy, before)
	assert.LessOrEqual(t, calls, 1)
	_, err = threshold.New(res.Thresholds)
	require.NoError(t, err)
}

func TestOptimize_Progress(t *testing.T) {
	var seen []Progress
	opts := Options{Progress: func(p Progress) { seen = append(seen, p) }}

	res, err := New(delta.NewEngine(panel, model.SourceDeployed, nil), opts).
		OptimizeSide(context.Background(), panelRecords(200, 3), panelConfig(t), model.SideBack)
	require.NoError(t, err)

	require.NotEmpty(t, seen)
	for i, p := range seen {
		assert.Equal(t, res.RunID, p.RunID)
		assert.Equal(t, model.SideBack, p.Side)
		if i > 0 {
			assert.GreaterOrEqual(t, p.Evaluations, seen[i-1].Evaluations)
			assert.GreaterOrEqual(t, p.Accuracy, seen[i-1].Accuracy)
		}
	}
	assert.Equal(t, res.Evaluations, seen[len(seen)-1].Evaluations)
}

func TestOptimizeSide_UnconfiguredSide(t *testing.T) {
	_, err := New(delta.NewEngine(scratch, model.SourceDeployed, nil), Options{}).
		OptimizeSide(context.Background(), nil, scratchConfig(t), model.SideLeft)
	require.Error(t, err)
	assert.True(t, model.IsConfiguration(err))
}

func TestSweepValues(t *testing.T) {
	tests := []struct {
		name  string
		mins  []int
		j     int
		step  int
		first int
		last  int
		n     int
	}{
		{"first boundary", []int{40, 70}, 0, 1, 1, 69, 69},
		{"last boundary", []int{40, 70}, 1, 1, 41, 100, 60},
		{"single boundary", []int{71}, 0, 1, 1, 100, 100},
		{"stride keeps current", []int{45, 70}, 0, 10, 1, 61, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sweepValues(tt.mins, tt.j, tt.step)
			require.Len(t, got, tt.n)
			assert.Equal(t, tt.first, got[0])
			assert.Equal(t, tt.last, got[len(got)-1])
			assert.Contains(t, got, tt.mins[tt.j])
			assert.IsIncreasing(t, got)
		})
	}
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 0, distance([]int{40, 70}, []int{40, 70}))
	assert.Equal(t, 7, distance([]int{45, 68}, []int{40, 70}))
}
