package optimize

import (
	"time"

	"github.com/sells-group/condition-eval/internal/model"
)

// Options tunes a search.
type Options struct {
	// MaxIterations caps full passes over the sides in OptimizeAll and
	// repeated sweeps of one side's boundaries.
	MaxIterations int
	// Timeout bounds the run; zero means no bound. On expiry the best
	// configuration found so far is returned with Result.TimedOut set.
	Timeout time.Duration
	// Workers is the number of candidate evaluations run in parallel.
	Workers int
	// Step is the stride of the boundary sweep.
	Step int
	// Progress, when set, is called after each boundary sweep from the
	// goroutine running the search.
	Progress func(Progress)
}

// DefaultOptions returns the defaults used by the CLI and server.
func DefaultOptions() Options {
	return Options{
		MaxIterations: 10,
		Timeout:       2 * time.Minute,
		Workers:       4,
		Step:          1,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 10
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Step <= 0 {
		o.Step = 1
	}
	return o
}

// Progress is a snapshot of a running search.
type Progress struct {
	RunID       string     `json:"run_id"`
	Side        model.Side `json:"side"`
	Boundary    int        `json:"boundary"`
	Iteration   int        `json:"iteration"`
	Evaluations int        `json:"evaluations"`
	Accuracy    float64    `json:"accuracy"`
}
