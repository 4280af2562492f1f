package recordset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/condition-eval/internal/model"
)

const sampleCSV = `pdd_txn_id,quote_date,top_score,front_score,new_top_score,final_answer,auditor_answer,qc_answer,cscan_answer,new_cscan_answer
T1,13/11/2025,40,80,35,Defect,,,Defect,Defect
T2,2025-11-14,nan,,12.5,,No Defect,,No Defect,No Defect
T3,14/11/2025,55,abc,,,,Defect,Defect,
,14/11/2025,10,10,,No Defect,,,,
T4,garbage,NULL,90,,nan,,,,
`

func TestReadCSV(t *testing.T) {
	recs, stats, err := ReadCSV(context.Background(), strings.NewReader(sampleCSV), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, Stats{Rows: 5, Records: 4, MissingID: 1, BadScores: 1, BadDates: 1, HasNewModel: true}, stats)

	t1 := recs[0]
	assert.Equal(t, "T1", t1.ID)
	assert.Equal(t, time.Date(2025, time.November, 13, 0, 0, 0, 0, time.UTC), t1.QuoteDate)
	v, ok := t1.Scores.Get(model.SideTop)
	assert.True(t, ok)
	assert.Equal(t, 40.0, v)
	v, ok = t1.NewScores.Get(model.SideTop)
	assert.True(t, ok)
	assert.Equal(t, 35.0, v)
	_, ok = t1.NewScores.Get(model.SideFront)
	assert.False(t, ok)
	assert.Equal(t, "Defect", t1.FinalAnswer)
	assert.Equal(t, "Defect", t1.DeployedAnswer)

	t2 := recs[1]
	assert.Equal(t, "No Defect", t2.FinalAnswer, "falls back to auditor answer")
	assert.False(t, t2.Scores.Any())
	assert.Equal(t, 2025, t2.QuoteDate.Year())

	t3 := recs[2]
	assert.Equal(t, "Defect", t3.FinalAnswer, "falls back to qc answer")
	assert.Equal(t, []model.Side{model.SideTop}, t3.Scores.Present())

	t4 := recs[3]
	assert.False(t, t4.HasActual())
	assert.True(t, t4.QuoteDate.IsZero())
	assert.Equal(t, []model.Side{model.SideFront}, t4.Scores.Present())
}

func TestReadCSV_MissingIDColumn(t *testing.T) {
	_, _, err := ReadCSV(context.Background(), strings.NewReader("id,top_score\n1,40\n"), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdd_txn_id")
}

func TestReadCSV_CustomIDColumn(t *testing.T) {
	recs, _, err := ReadCSV(context.Background(), strings.NewReader("ID,Top_Score\nx,40\n"), Options{IDColumn: "id"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "x", recs[0].ID)
	assert.True(t, recs[0].Scores[model.SideTop].Valid)
}

func TestReadCSV_Empty(t *testing.T) {
	_, _, err := ReadCSV(context.Background(), strings.NewReader(""), Options{})
	assert.Error(t, err)
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := ReadCSV(ctx, strings.NewReader(sampleCSV), Options{})
	assert.Error(t, err)
}

func createTestXLSX(t *testing.T, sheet string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet(sheet)
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sh.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "records.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t, "analysis", [][]string{
		{"pdd_txn_id", "back_score", "final_answer"},
		{"X1", "81", "major"},
		{"X2", "", "minor"},
	})

	recs, stats, err := ReadXLSX(context.Background(), path, Options{Sheet: "analysis"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 2, stats.Records)
	assert.False(t, stats.HasNewModel)

	v, ok := recs[0].Scores.Get(model.SideBack)
	assert.True(t, ok)
	assert.Equal(t, 81.0, v)
	assert.False(t, recs[1].Scores.Any())
	assert.Equal(t, "minor", recs[1].FinalAnswer)
}

func TestReadXLSX_MissingSheet(t *testing.T) {
	path := createTestXLSX(t, "Sheet1", [][]string{{"pdd_txn_id"}})
	_, _, err := ReadXLSX(context.Background(), path, Options{Sheet: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestLoad_DispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "records.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(sampleCSV), 0o644))

	recs, _, err := Load(context.Background(), csvPath, Options{})
	require.NoError(t, err)
	assert.Len(t, recs, 4)

	xlsxPath := createTestXLSX(t, "Sheet1", [][]string{{"pdd_txn_id", "top_score"}, {"A", "1"}})
	recs, _, err = Load(context.Background(), xlsxPath, Options{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, _, err = Load(context.Background(), filepath.Join(dir, "missing.csv"), Options{})
	assert.Error(t, err)
}
