// Package store keeps a history of optimization runs. It is an audit ledger:
// nothing in the engine reads it back.
package store

import (
	"context"
	"time"

	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/optimize"
	"github.com/sells-group/condition-eval/internal/threshold"
)

// Run is one recorded optimization.
type Run struct {
	ID             string             `json:"id"`
	Question       string             `json:"question"`
	Side           string             `json:"side,omitempty"`
	Model          model.Source       `json:"model"`
	AccuracyBefore float64            `json:"accuracy_before"`
	Accuracy       float64            `json:"accuracy"`
	Changed        int                `json:"changed"`
	Evaluations    int                `json:"evaluations"`
	Improved       bool               `json:"improved"`
	TimedOut       bool               `json:"timed_out"`
	Thresholds     threshold.Document `json:"thresholds"`
	CreatedAt      time.Time          `json:"created_at"`
}

// RunFromResult builds the history entry for an optimization result.
func RunFromResult(res *optimize.Result, source model.Source) Run {
	return Run{
		ID:             res.RunID,
		Question:       res.Question,
		Side:           res.Side,
		Model:          source,
		AccuracyBefore: res.AccuracyBefore,
		Accuracy:       res.Accuracy,
		Changed:        len(res.Changed),
		Evaluations:    res.Evaluations,
		Improved:       res.Improved,
		TimedOut:       res.TimedOut,
		Thresholds:     res.Thresholds,
		CreatedAt:      time.Now().UTC(),
	}
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Question     string `json:"question,omitempty"`
	ImprovedOnly bool   `json:"improved_only,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Offset       int    `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store defines the persistence interface for run history.
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
