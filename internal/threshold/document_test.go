package threshold

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/condition-eval/internal/model"
)

func TestParseDocument_StructuredYAML(t *testing.T) {
	data := []byte(`
questions:
  physicalConditionPanel:
    severity: [no defect, glass panel damaged, cracked or broken panel]
    sides:
      top:
        no defect: [0, 60]
        glass panel damaged: [61, 80]
        cracked or broken panel: [81, 100]
label_merges:
  physicalConditionPanel:
    glass panel damaged: cracked or broken panel
`)
	doc, err := ParseDocument(data, FormatYAML)
	require.NoError(t, err)
	require.Contains(t, doc.Questions, "physicalConditionPanel")
	qd := doc.Questions["physicalConditionPanel"]
	assert.Equal(t, []string{"no defect", "glass panel damaged", "cracked or broken panel"}, qd.Severity)
	assert.Equal(t, [2]int{61, 80}, qd.Sides["top"]["glass panel damaged"])
	assert.Equal(t, "cracked or broken panel", doc.LabelMerges["physicalConditionPanel"]["glass panel damaged"])

	cfg, err := New(doc)
	require.NoError(t, err)
	got, err := cfg.Classify("physicalConditionPanel", model.SideTop, 70)
	require.NoError(t, err)
	assert.Equal(t, "glass panel damaged", got)
}

func TestParseDocument_FlatJSON(t *testing.T) {
	data := []byte(`{
  "physicalConditionScratch": {
    "top":   {"no scratches": [0, 40], "minor scratch": [41, 75], "major scratch": [76, 100]},
    "front": {"no scratches": [0, 50], "minor scratch": [51, 80], "major scratch": [81, 100]}
  }
}`)
	doc, err := ParseDocument(data, FormatJSON)
	require.NoError(t, err)
	cfg, err := New(doc)
	require.NoError(t, err)
	q, err := cfg.Question("physicalConditionScratch")
	require.NoError(t, err)
	assert.Equal(t, []string{"no scratches", "minor scratch", "major scratch"}, q.Severity())
}

func TestParseDocument_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"fractional bound", `{"questions": {"q": {"sides": {"top": {"a": [0, 50.5], "b": [51, 100]}}}}}`},
		{"bound out of range", `{"questions": {"q": {"sides": {"top": {"a": [0, 50], "b": [51, 200]}}}}}`},
		{"unknown side", `{"questions": {"q": {"sides": {"inside": {"a": [0, 100]}}}}}`},
		{"three bounds", `{"questions": {"q": {"sides": {"top": {"a": [0, 50, 60]}}}}}`},
		{"no sides", `{"questions": {"q": {"severity": ["a"]}}}`},
		{"unknown key", `{"questions": {"q": {"sides": {"top": {"a": [0, 100]}}}}, "extra": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.data), FormatJSON)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema")
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "threshold.json")
	data := `{"questions": {"q": {"severity": ["no defect", "defect"],
		"sides": {"top": {"no defect": [0, 60], "defect": [61, 100]}}}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, cfg.Questions())

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestWriteDocument_RoundTrip(t *testing.T) {
	cfg, err := New(threeCategoryDoc())
	require.NoError(t, err)

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteDocument(&buf, cfg.Document(), format))

			doc, err := ParseDocument(buf.Bytes(), format)
			require.NoError(t, err)
			again, err := New(doc)
			require.NoError(t, err)
			assert.True(t, cfg.Equal(again))
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("thresholds.yaml"))
	assert.Equal(t, FormatYAML, FormatFromPath("THRESHOLDS.YML"))
	assert.Equal(t, FormatJSON, FormatFromPath("threshold.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("threshold"))
}
