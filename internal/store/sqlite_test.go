package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/optimize"
	"github.com/sells-group/condition-eval/internal/threshold"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRun(id, question string, improved bool, at time.Time) Run {
	return Run{
		ID:             id,
		Question:       question,
		Side:           "front",
		Model:          model.SourceNew,
		AccuracyBefore: 0.5,
		Accuracy:       0.75,
		Changed:        3,
		Evaluations:    120,
		Improved:       improved,
		Thresholds: threshold.Document{
			Questions: map[string]threshold.QuestionDoc{
				question: {
					Severity: []string{"no defect", "defect"},
					Sides: map[string]map[string][2]int{
						"front": {"no defect": {0, 65}, "defect": {66, 100}},
					},
				},
			},
		},
		CreatedAt: at,
	}
}

func TestSQLite_SaveAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	at := time.Date(2025, 11, 14, 9, 30, 0, 0, time.UTC)
	want := testRun("run-1", "physicalConditionScratch", true, at)
	require.NoError(t, st.SaveRun(ctx, want))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.Question, got.Question)
	assert.Equal(t, model.SourceNew, got.Model)
	assert.Equal(t, 0.75, got.Accuracy)
	assert.Equal(t, 3, got.Changed)
	assert.True(t, got.Improved)
	assert.False(t, got.TimedOut)
	assert.True(t, at.Equal(got.CreatedAt))
	assert.Equal(t, want.Thresholds, got.Thresholds)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_SaveRun_DuplicateID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := testRun("dup", "q", true, time.Now().UTC())
	require.NoError(t, st.SaveRun(ctx, run))
	assert.Error(t, st.SaveRun(ctx, run))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 11, 14, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveRun(ctx, testRun("a", "panel", true, base)))
	require.NoError(t, st.SaveRun(ctx, testRun("b", "panel", false, base.Add(time.Hour))))
	require.NoError(t, st.SaveRun(ctx, testRun("c", "scratch", true, base.Add(2*time.Hour))))

	tests := []struct {
		name   string
		filter RunFilter
		want   []string
	}{
		{"all newest first", RunFilter{}, []string{"c", "b", "a"}},
		{"by question", RunFilter{Question: "panel"}, []string{"b", "a"}},
		{"improved only", RunFilter{ImprovedOnly: true}, []string{"c", "a"}},
		{"limit", RunFilter{Limit: 1}, []string{"c"}},
		{"offset", RunFilter{Limit: 2, Offset: 1}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := st.ListRuns(ctx, tt.filter)
			require.NoError(t, err)
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRunFromResult(t *testing.T) {
	res := &optimize.Result{
		RunID:          "r-1",
		Question:       "q",
		Side:           "top",
		AccuracyBefore: 0.4,
		Accuracy:       0.6,
		Evaluations:    10,
		Improved:       true,
	}
	run := RunFromResult(res, model.SourceDeployed)
	assert.Equal(t, "r-1", run.ID)
	assert.Equal(t, model.SourceDeployed, run.Model)
	assert.Equal(t, 0, run.Changed)
	assert.True(t, run.Improved)
	assert.False(t, run.CreatedAt.IsZero())
}
