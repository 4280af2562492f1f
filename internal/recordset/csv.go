package recordset

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/condition-eval/internal/model"
)

// ReadCSV decodes a comma-separated record table with a header row.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) ([]model.Record, Stats, error) {
	rowCh, errCh := streamCSV(ctx, r)
	return collect(rowCh, errCh, opts)
}

// streamCSV sends rows, header included, to a channel. Both channels are
// closed when the reader is exhausted or ctx is cancelled.
func streamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "recordset: csv cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "recordset: read csv row")
				return
			}
			if isEmptyRow(row) {
				continue
			}

			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "recordset: csv cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func isEmptyRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
