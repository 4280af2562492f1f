// Package recordset loads scored, reviewed records from CSV and XLSX exports.
package recordset

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/condition-eval/internal/model"
)

// Column names of the review export.
const (
	ColID             = "pdd_txn_id"
	ColQuoteDate      = "quote_date"
	ColFinalAnswer    = "final_answer"
	ColAuditorAnswer  = "auditor_answer"
	ColQCAnswer       = "qc_answer"
	ColDeployedAnswer = "cscan_answer"
	ColNewAnswer      = "new_cscan_answer"
)

// dateLayouts are tried in order; exports use day-first dates.
var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Options configures loading.
type Options struct {
	IDColumn string // default pdd_txn_id
	Sheet    string // xlsx sheet name; default first sheet
}

// Stats describes what a load skipped.
type Stats struct {
	Rows        int  `json:"rows"`
	Records     int  `json:"records"`
	MissingID   int  `json:"missing_id"`
	BadScores   int  `json:"bad_scores"`
	BadDates    int  `json:"bad_dates"`
	HasNewModel bool `json:"has_new_model"`
}

// Load reads a record table, picking the parser from the file extension.
func Load(ctx context.Context, path string, opts Options) ([]model.Record, Stats, error) {
	var (
		records []model.Record
		stats   Stats
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, stats, err = ReadXLSX(ctx, path, opts)
	default:
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil, Stats{}, eris.Wrapf(openErr, "recordset: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		records, stats, err = ReadCSV(ctx, f, opts)
	}
	if err != nil {
		return nil, Stats{}, err
	}

	zap.L().Info("recordset: loaded records",
		zap.String("path", path),
		zap.Int("rows", stats.Rows),
		zap.Int("records", stats.Records),
		zap.Int("missing_id", stats.MissingID),
		zap.Int("bad_scores", stats.BadScores),
		zap.Bool("has_new_model", stats.HasNewModel),
	)
	return records, stats, nil
}

// collect drains a row stream into records. The first row is the header.
func collect(rowCh <-chan []string, errCh <-chan error, opts Options) ([]model.Record, Stats, error) {
	var (
		dec     *decoder
		records []model.Record
		stats   Stats
	)
	for row := range rowCh {
		if dec == nil {
			dec = newDecoder(row, opts)
			if _, ok := dec.cols[dec.idColumn]; !ok {
				// Keep draining so the producer can exit.
				for range rowCh {
				}
				return nil, Stats{}, eris.Errorf("recordset: header has no %q column", dec.idColumn)
			}
			stats.HasNewModel = dec.hasNewModel()
			continue
		}
		stats.Rows++
		rec, ok := dec.decode(row, &stats)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, Stats{}, err
	}
	if dec == nil {
		return nil, Stats{}, eris.New("recordset: empty table")
	}
	stats.Records = len(records)
	return records, stats, nil
}

type decoder struct {
	idColumn string
	cols     map[string]int
}

func newDecoder(header []string, opts Options) *decoder {
	d := &decoder{idColumn: ColID, cols: make(map[string]int, len(header))}
	if opts.IDColumn != "" {
		d.idColumn = strings.ToLower(strings.TrimSpace(opts.IDColumn))
	}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := d.cols[key]; !dup {
			d.cols[key] = i
		}
	}
	return d
}

func (d *decoder) hasNewModel() bool {
	for _, side := range model.AllSides() {
		if _, ok := d.cols["new_"+side.String()+"_score"]; ok {
			return true
		}
	}
	return false
}

func (d *decoder) field(row []string, col string) string {
	i, ok := d.cols[col]
	if !ok || i >= len(row) {
		return ""
	}
	v := strings.TrimSpace(row[i])
	if model.IsBlankLabel(v) {
		return ""
	}
	return v
}

func (d *decoder) decode(row []string, stats *Stats) (model.Record, bool) {
	id := d.field(row, d.idColumn)
	if id == "" {
		stats.MissingID++
		return model.Record{}, false
	}
	rec := model.Record{
		ID:             id,
		FinalAnswer:    d.field(row, ColFinalAnswer),
		DeployedAnswer: d.field(row, ColDeployedAnswer),
		NewAnswer:      d.field(row, ColNewAnswer),
	}
	if rec.FinalAnswer == "" {
		rec.FinalAnswer = d.field(row, ColAuditorAnswer)
	}
	if rec.FinalAnswer == "" {
		rec.FinalAnswer = d.field(row, ColQCAnswer)
	}

	if raw := d.field(row, ColQuoteDate); raw != "" {
		if t, ok := parseDate(raw); ok {
			rec.QuoteDate = t
		} else {
			stats.BadDates++
		}
	}

	for _, side := range model.AllSides() {
		if sc, ok := d.score(row, side.String()+"_score", stats); ok {
			rec.Scores[side] = sc
		}
		if sc, ok := d.score(row, "new_"+side.String()+"_score", stats); ok {
			rec.NewScores[side] = sc
		}
	}
	return rec, true
}

// score parses a score cell. Blank and null markers are absent; unparsable
// values are counted and treated as absent.
func (d *decoder) score(row []string, col string, stats *Stats) (model.Score, bool) {
	raw := d.field(row, col)
	if raw == "" {
		return model.Score{}, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		stats.BadScores++
		return model.Score{}, false
	}
	return model.Score{Value: v, Valid: true}, true
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
