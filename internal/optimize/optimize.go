// Package optimize searches threshold boundaries for the configuration that
// best agrees with ground truth.
package optimize

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/condition-eval/internal/delta"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/threshold"
)

// Result is the outcome of a search. Config is always valid; when nothing
// better was found it is the input configuration and Delta is zero.
type Result struct {
	RunID          string             `json:"run_id"`
	Question       string             `json:"question"`
	Side           string             `json:"side,omitempty"`
	Config         *threshold.Config  `json:"-"`
	Thresholds     threshold.Document `json:"thresholds"`
	AccuracyBefore float64            `json:"accuracy_before"`
	Accuracy       float64            `json:"accuracy"`
	Delta          float64            `json:"accuracy_delta"`
	Changed        []delta.Change     `json:"changed"`
	Iterations     int                `json:"iterations"`
	Evaluations    int                `json:"evaluations"`
	TimedOut       bool               `json:"timed_out"`
	Improved       bool               `json:"improved"`
}

// Optimizer runs coordinate ascent over integer category boundaries. It
// never modifies the records or configurations it is given.
type Optimizer struct {
	engine *delta.Engine
	opts   Options
}

// New returns an Optimizer for the engine's question and score source.
func New(engine *delta.Engine, opts Options) *Optimizer {
	return &Optimizer{engine: engine, opts: opts.withDefaults()}
}

// OptimizeSide tunes one side's boundaries, holding the other sides fixed.
func (o *Optimizer) OptimizeSide(ctx context.Context, records []model.Record, cfg *threshold.Config, side model.Side) (*Result, error) {
	q, err := cfg.Question(o.engine.Question())
	if err != nil {
		return nil, err
	}
	if !q.HasSide(side) {
		return nil, model.NewConfigurationError(q.Name(), side.String(), "side not configured")
	}
	return o.run(ctx, records, cfg, []model.Side{side}, side.String())
}

// OptimizeAll tunes every configured side in turn, repeating full passes
// until one makes no change or MaxIterations is reached. Accuracy never
// decreases.
func (o *Optimizer) OptimizeAll(ctx context.Context, records []model.Record, cfg *threshold.Config) (*Result, error) {
	q, err := cfg.Question(o.engine.Question())
	if err != nil {
		return nil, err
	}
	return o.run(ctx, records, cfg, q.Sides(), "")
}

func (o *Optimizer) run(ctx context.Context, records []model.Record, cfg *threshold.Config, sides []model.Side, sideName string) (*Result, error) {
	runID := uuid.NewString()
	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("question", o.engine.Question()),
		zap.String("side", sideName),
	)

	start, err := o.engine.Snapshot(records, cfg)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:          runID,
		Question:       o.engine.Question(),
		Side:           sideName,
		Config:         cfg,
		AccuracyBefore: start.Accuracy(),
		Accuracy:       start.Accuracy(),
	}
	if start.Total() == 0 {
		log.Warn("optimize: no labelled and scored records, keeping input thresholds")
		res.Thresholds = cfg.Document()
		return res, nil
	}

	runCtx := ctx
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	s := &search{
		opts:     o.opts,
		runID:    runID,
		question: o.engine.Question(),
		snap:     start,
		log:      log,
	}
	q, err := cfg.Question(s.question)
	if err != nil {
		return nil, err
	}
	for _, side := range sides {
		s.origin[side] = q.Boundaries(side)
	}

	log.Info("optimize: started",
		zap.Int("records", len(records)),
		zap.Float64("accuracy", start.Accuracy()),
	)
	began := time.Now()

	err = s.ascend(runCtx, sides)
	stopped := err != nil && runCtx.Err() != nil && errors.Is(err, runCtx.Err())
	if err != nil && !stopped {
		return nil, err
	}

	final, err := start.Delta(s.snap.Config())
	if err != nil {
		return nil, eris.Wrap(err, "optimize: summarize result")
	}
	res.Config = s.snap.Config()
	res.Thresholds = res.Config.Document()
	res.AccuracyBefore = final.AccuracyBefore
	res.Accuracy = final.AccuracyAfter
	res.Delta = final.AccuracyDelta
	res.Changed = final.Changed
	res.Iterations = s.iterations
	res.Evaluations = s.evaluations
	res.Improved = s.snap.Correct() > start.Correct()

	log.Info("optimize: finished",
		zap.Float64("accuracy_before", res.AccuracyBefore),
		zap.Float64("accuracy", res.Accuracy),
		zap.Int("changed", len(res.Changed)),
		zap.Int("evaluations", res.Evaluations),
		zap.Bool("stopped_early", stopped),
		zap.Duration("elapsed", time.Since(began)),
	)

	if stopped {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		res.TimedOut = true
	}
	return res, nil
}

// search is the mutable state of one run. Only the goroutine running ascend
// touches it; workers see immutable snapshots.
type search struct {
	opts     Options
	runID    string
	question string
	origin   [model.NumSides][]int
	snap     *delta.Snapshot
	log      *zap.Logger

	iterations  int
	evaluations int
}

// ascend repeats passes over the sides until a pass moves no boundary.
func (s *search) ascend(ctx context.Context, sides []model.Side) error {
	for s.iterations < s.opts.MaxIterations {
		s.iterations++
		moved := false
		for _, side := range sides {
			m, err := s.side(ctx, side)
			if err != nil {
				return err
			}
			moved = moved || m
		}
		if !moved || len(sides) == 1 {
			return nil
		}
	}
	return nil
}

// side sweeps each boundary of one side until none moves.
func (s *search) side(ctx context.Context, side model.Side) (bool, error) {
	moved := false
	for sweep := 0; sweep < s.opts.MaxIterations; sweep++ {
		q, err := s.snap.Config().Question(s.question)
		if err != nil {
			return moved, err
		}
		n := len(q.Boundaries(side))
		if n == 0 {
			return moved, nil
		}
		changed := false
		for j := 0; j < n; j++ {
			m, err := s.boundary(ctx, side, j)
			if err != nil {
				return moved, err
			}
			changed = changed || m
		}
		if !changed {
			return moved, nil
		}
		moved = true
	}
	return moved, nil
}

type candidate struct {
	mins  []int
	cfg   *threshold.Config
	score delta.Score
	ok    bool
}

// boundary evaluates every admissible value of boundary j and moves to the
// best one. Evaluations run in parallel into per-candidate slots and are
// reduced in candidate order.
func (s *search) boundary(ctx context.Context, side model.Side, j int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	q, err := s.snap.Config().Question(s.question)
	if err != nil {
		return false, err
	}
	current := q.Boundaries(side)

	values := sweepValues(current, j, s.opts.Step)
	cands := make([]candidate, len(values))
	for i, v := range values {
		mins := append([]int(nil), current...)
		mins[j] = v
		cands[i].mins = mins
	}

	snap := s.snap
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range cands {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := &cands[i]
			cfg, err := snap.Config().WithBoundaries(s.question, side, c.mins)
			if err != nil {
				// Ordering is enforced by sweepValues; anything else the
				// validator rejects is simply not a candidate.
				return nil
			}
			sc, err := snap.Evaluate(cfg)
			if err != nil {
				return err
			}
			c.cfg, c.score, c.ok = cfg, sc, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	best := -1
	for i := range cands {
		if !cands[i].ok {
			continue
		}
		s.evaluations++
		if best < 0 || s.better(side, cands[i], cands[best]) {
			best = i
		}
	}

	moved := false
	if best >= 0 && cands[best].mins[j] != current[j] {
		res, err := snap.Delta(cands[best].cfg)
		if err != nil {
			return false, eris.Wrap(err, "optimize: apply candidate")
		}
		s.snap = res.Snapshot()
		moved = true
		s.log.Debug("optimize: boundary moved",
			zap.Stringer("side", side),
			zap.Int("boundary", j),
			zap.Int("from", current[j]),
			zap.Int("to", cands[best].mins[j]),
			zap.Int("correct", s.snap.Correct()),
		)
	}

	if s.opts.Progress != nil {
		s.opts.Progress(Progress{
			RunID:       s.runID,
			Side:        side,
			Boundary:    j,
			Iteration:   s.iterations,
			Evaluations: s.evaluations,
			Accuracy:    s.snap.Accuracy(),
		})
	}
	return moved, nil
}

// better orders candidates: more correct predictions, then closer to the
// input boundaries, then the smaller boundary set.
func (s *search) better(side model.Side, a, b candidate) bool {
	if a.score.Correct != b.score.Correct {
		return a.score.Correct > b.score.Correct
	}
	da, db := distance(a.mins, s.origin[side]), distance(b.mins, s.origin[side])
	if da != db {
		return da < db
	}
	for i := range a.mins {
		if a.mins[i] != b.mins[i] {
			return a.mins[i] < b.mins[i]
		}
	}
	return false
}

// sweepValues lists the admissible values of boundary j, keeping every
// category non-empty: prev+1 .. next-1 in steps, plus the current value.
func sweepValues(mins []int, j, step int) []int {
	lo := model.MinScore + 1
	if j > 0 {
		lo = mins[j-1] + 1
	}
	hi := model.MaxScore
	if j < len(mins)-1 {
		hi = mins[j+1] - 1
	}

	seen := make(map[int]bool)
	var out []int
	for v := lo; v <= hi; v += step {
		seen[v] = true
		out = append(out, v)
	}
	if !seen[mins[j]] {
		out = append(out, mins[j])
		sort.Ints(out)
	}
	return out
}

// distance is the L1 distance between two boundary sets. A side absent from
// the origin counts every boundary at full magnitude.
func distance(a, origin []int) int {
	d := 0
	for i, v := range a {
		o := 0
		if i < len(origin) {
			o = origin[i]
		}
		if v > o {
			d += v - o
		} else {
			d += o - v
		}
	}
	return d
}
