package matrix

import (
	"github.com/sells-group/condition-eval/internal/model"
)

// Matrix is a confusion matrix over a shared label universe. Rows are actual
// labels and columns predicted labels, both in Labels order.
type Matrix struct {
	Question string   `json:"question"`
	Labels   []string `json:"labels"`
	// Counts[a][p] is the number of records with actual Labels[a] predicted
	// as Labels[p].
	Counts [][]int `json:"counts"`
	// CellRecords[a][p] lists the record IDs counted in Counts[a][p].
	CellRecords [][][]string `json:"cell_records,omitempty"`

	Correct   int     `json:"correct"`
	Total     int     `json:"total_samples"`
	Unlabeled int     `json:"unlabeled"`
	Unscored  int     `json:"unscored"`
	Accuracy  float64 `json:"accuracy"`
	HasData   bool    `json:"has_data"`
}

// Err returns model.ErrEmptyDataset when no record was tabulated.
func (m *Matrix) Err() error {
	if !m.HasData {
		return model.ErrEmptyDataset
	}
	return nil
}

// Index returns the position of a normalized label in the universe.
func (m *Matrix) Index(label string) (int, bool) {
	for i, l := range m.Labels {
		if l == label {
			return i, true
		}
	}
	return 0, false
}

// Count returns the cell count for normalized actual and predicted labels.
func (m *Matrix) Count(actual, predicted string) int {
	a, ok := m.Index(actual)
	if !ok {
		return 0
	}
	p, ok := m.Index(predicted)
	if !ok {
		return 0
	}
	return m.Counts[a][p]
}

// Records returns the record IDs in a cell, for drill-down.
func (m *Matrix) Records(actual, predicted string) []string {
	a, ok := m.Index(actual)
	if !ok || m.CellRecords == nil {
		return nil
	}
	p, ok := m.Index(predicted)
	if !ok {
		return nil
	}
	return append([]string(nil), m.CellRecords[a][p]...)
}

// ClassMetric is the one-vs-rest summary of one label.
type ClassMetric struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassMetrics returns precision, recall and F1 per label. Undefined ratios
// are reported as 0.
func (m *Matrix) ClassMetrics() []ClassMetric {
	out := make([]ClassMetric, len(m.Labels))
	for i, label := range m.Labels {
		var tp, rowSum, colSum int
		for j := range m.Labels {
			rowSum += m.Counts[i][j]
			colSum += m.Counts[j][i]
		}
		tp = m.Counts[i][i]
		cm := ClassMetric{Label: label, Support: rowSum}
		if colSum > 0 {
			cm.Precision = float64(tp) / float64(colSum)
		}
		if rowSum > 0 {
			cm.Recall = float64(tp) / float64(rowSum)
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		out[i] = cm
	}
	return out
}
