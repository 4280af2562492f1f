package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/condition-eval/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS optimization_runs (
	id              TEXT PRIMARY KEY,
	question        TEXT NOT NULL,
	side            TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL,
	accuracy_before REAL NOT NULL,
	accuracy        REAL NOT NULL,
	changed         INTEGER NOT NULL DEFAULT 0,
	evaluations     INTEGER NOT NULL DEFAULT 0,
	improved        INTEGER NOT NULL DEFAULT 0,
	timed_out       INTEGER NOT NULL DEFAULT 0,
	thresholds      TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_optimization_runs_question ON optimization_runs(question);
CREATE INDEX IF NOT EXISTS idx_optimization_runs_created_at ON optimization_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	thresholdsJSON, err := json.Marshal(run.Thresholds)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal thresholds")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO optimization_runs (id, question, side, model, accuracy_before, accuracy, changed, evaluations, improved, timed_out, thresholds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Question, run.Side, string(run.Model), run.AccuracyBefore, run.Accuracy,
		run.Changed, run.Evaluations, run.Improved, run.TimedOut, string(thresholdsJSON), run.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}
	return nil
}

const runColumns = `id, question, side, model, accuracy_before, accuracy, changed, evaluations, improved, timed_out, thresholds, created_at`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM optimization_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Errorf("sqlite: get run: run not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM optimization_runs WHERE 1=1`
	var args []any

	if filter.Question != "" {
		query += ` AND question = ?`
		args = append(args, filter.Question)
	}
	if filter.ImprovedOnly {
		query += ` AND improved = 1`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, filter.limit())

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		r              Run
		source         string
		thresholdsJSON string
	)
	if err := row.Scan(&r.ID, &r.Question, &r.Side, &source, &r.AccuracyBefore, &r.Accuracy,
		&r.Changed, &r.Evaluations, &r.Improved, &r.TimedOut, &thresholdsJSON, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Model = model.ParseSource(source)
	if err := json.Unmarshal([]byte(thresholdsJSON), &r.Thresholds); err != nil {
		return nil, eris.Wrap(err, "unmarshal thresholds")
	}
	return &r, nil
}
