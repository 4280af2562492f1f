// Package analytics summarizes classification quality across a record set:
// accuracy by day, category and side, the most frequent confusions, score
// distributions, and agreement between the deployed and new models.
package analytics

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/condition-eval/internal/matrix"
	"github.com/sells-group/condition-eval/internal/model"
	"github.com/sells-group/condition-eval/internal/threshold"
	"github.com/sells-group/condition-eval/internal/verdict"
)

// DefaultTopN is the number of misclassifications a report keeps.
const DefaultTopN = 10

// Tally is a correct/total pair with its ratio.
type Tally struct {
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
	Accuracy float64 `json:"accuracy"`
}

func (t *Tally) add(correct bool) {
	t.Total++
	if correct {
		t.Correct++
	}
	t.Accuracy = float64(t.Correct) / float64(t.Total)
}

// Daily is the accuracy of records quoted on one date.
type Daily struct {
	Date string `json:"date"`
	Tally
}

// Category is the accuracy over records whose actual label is Category.
type Category struct {
	Category string `json:"category"`
	Tally
}

// SideAccuracy is the accuracy over records the side contributed to.
type SideAccuracy struct {
	Side model.Side `json:"side"`
	Tally
}

// Misclassification counts one (predicted, actual) confusion.
type Misclassification struct {
	Predicted string `json:"predicted"`
	Actual    string `json:"actual"`
	Count     int    `json:"count"`
}

// Report is the analytics summary for one question and score source.
type Report struct {
	Question           string              `json:"question"`
	Source             model.Source        `json:"source"`
	Overall            Tally               `json:"overall"`
	Daily              []Daily             `json:"daily"`
	Categories         []Category          `json:"categories"`
	Sides              []SideAccuracy      `json:"sides"`
	Misclassifications []Misclassification `json:"misclassifications"`
	Distributions      []Distribution      `json:"distributions"`
	Unlabeled          int                 `json:"unlabeled"`
	Unscored           int                 `json:"unscored"`
}

// Analyzer builds reports for one question under one configuration.
type Analyzer struct {
	cfg        *threshold.Config
	question   string
	normalizer *matrix.Normalizer
	topN       int
}

// New returns an Analyzer. A nil normalizer uses the built-in merges.
func New(cfg *threshold.Config, question string, normalizer *matrix.Normalizer) *Analyzer {
	if normalizer == nil {
		normalizer = matrix.NewNormalizer(matrix.DefaultMerges())
	}
	return &Analyzer{cfg: cfg, question: question, normalizer: normalizer, topN: DefaultTopN}
}

// WithTopN returns a copy keeping n misclassifications.
func (a *Analyzer) WithTopN(n int) *Analyzer {
	cp := *a
	cp.topN = n
	return &cp
}

// Analyze labels the records from one source and summarizes the outcome.
func (a *Analyzer) Analyze(ctx context.Context, records []model.Record, source model.Source) (*Report, error) {
	labeler, err := verdict.NewLabeler(a.cfg, a.question, source)
	if err != nil {
		return nil, err
	}
	results, _, err := labeler.LabelAll(records)
	if err != nil {
		return nil, err
	}

	rep := &Report{Question: a.question, Source: source}
	daily := make(map[string]*Tally)
	categories := make(map[string]*Tally)
	var sides [model.NumSides]Tally
	confusions := make(map[[2]string]int)

	for i, rec := range records {
		if !rec.HasActual() {
			rep.Unlabeled++
			continue
		}
		res := results[i]
		if res.Final == "" {
			rep.Unscored++
			continue
		}
		predicted := a.normalizer.Normalize(a.question, res.Final)
		actual := a.normalizer.Normalize(a.question, rec.FinalAnswer)
		ok := predicted == actual

		rep.Overall.add(ok)
		tallyFor(categories, actual).add(ok)
		if !rec.QuoteDate.IsZero() {
			tallyFor(daily, rec.QuoteDate.Format("2006-01-02")).add(ok)
		}
		for _, side := range res.Contributing {
			sides[side].add(ok)
		}
		if !ok {
			confusions[[2]string{predicted, actual}]++
		}
	}

	for _, d := range sortedKeys(daily) {
		rep.Daily = append(rep.Daily, Daily{Date: d, Tally: *daily[d]})
	}
	rep.Categories = a.orderCategories(categories)
	for _, side := range model.AllSides() {
		if sides[side].Total > 0 {
			rep.Sides = append(rep.Sides, SideAccuracy{Side: side, Tally: sides[side]})
		}
	}
	rep.Misclassifications = topConfusions(confusions, a.topN)

	dists, err := Distributions(ctx, records, source)
	if err != nil {
		return nil, err
	}
	rep.Distributions = dists

	zap.L().Debug("analytics: report built",
		zap.String("question", a.question),
		zap.String("source", string(source)),
		zap.Int("records", len(records)),
		zap.Float64("accuracy", rep.Overall.Accuracy),
	)
	return rep, nil
}

// orderCategories lists categories in severity order, then the rest sorted.
func (a *Analyzer) orderCategories(m map[string]*Tally) []Category {
	var out []Category
	placed := make(map[string]bool)
	if q, err := a.cfg.Question(a.question); err == nil {
		for _, cat := range q.Severity() {
			n := a.normalizer.Normalize(a.question, cat)
			if t, ok := m[n]; ok && !placed[n] {
				out = append(out, Category{Category: n, Tally: *t})
				placed[n] = true
			}
		}
	}
	for _, c := range sortedKeys(m) {
		if !placed[c] {
			out = append(out, Category{Category: c, Tally: *m[c]})
		}
	}
	return out
}

// Agreement splits labelled records by which model matched ground truth.
type Agreement struct {
	BothAgree    int `json:"both_agree"`
	OnlyDeployed int `json:"only_deployed"`
	OnlyNew      int `json:"only_new"`
	BothDisagree int `json:"both_disagree"`
	// Rate is the share of compared records on which the two models
	// predicted the same label.
	Rate float64 `json:"rate"`
}

// Agreement compares deployed-model and new-model predictions. Records
// without ground truth or without a prediction from either model are skipped.
func (a *Analyzer) Agreement(records []model.Record) (Agreement, error) {
	deployed, err := verdict.NewLabeler(a.cfg, a.question, model.SourceDeployed)
	if err != nil {
		return Agreement{}, err
	}
	updated, err := verdict.NewLabeler(a.cfg, a.question, model.SourceNew)
	if err != nil {
		return Agreement{}, err
	}

	var out Agreement
	same, compared := 0, 0
	for _, rec := range records {
		if !rec.HasActual() {
			continue
		}
		d, err := deployed.Final(rec)
		if err != nil && !model.IsMissingData(err) {
			return Agreement{}, eris.Wrapf(err, "analytics: label deployed %s", rec.ID)
		}
		n, err := updated.Final(rec)
		if err != nil && !model.IsMissingData(err) {
			return Agreement{}, eris.Wrapf(err, "analytics: label new %s", rec.ID)
		}
		if d == "" || n == "" {
			continue
		}
		actual := a.normalizer.Normalize(a.question, rec.FinalAnswer)
		dn := a.normalizer.Normalize(a.question, d)
		nn := a.normalizer.Normalize(a.question, n)

		compared++
		if dn == nn {
			same++
		}
		switch {
		case dn == actual && nn == actual:
			out.BothAgree++
		case dn == actual:
			out.OnlyDeployed++
		case nn == actual:
			out.OnlyNew++
		default:
			out.BothDisagree++
		}
	}
	if compared > 0 {
		out.Rate = float64(same) / float64(compared)
	}
	return out, nil
}

// Distributions summarizes each side's scores for one source. Sides are
// computed concurrently; sides without scores are omitted.
func Distributions(ctx context.Context, records []model.Record, source model.Source) ([]Distribution, error) {
	slots := make([]*Distribution, model.NumSides)

	g, gctx := errgroup.WithContext(ctx)
	for _, side := range model.AllSides() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			values := make([]float64, 0, len(records))
			for _, rec := range records {
				if v, ok := rec.ScoresFor(source).Get(side); ok {
					values = append(values, v)
				}
			}
			if len(values) == 0 {
				return nil
			}
			d, err := Describe(values)
			if err != nil {
				return eris.Wrapf(err, "analytics: describe %s scores", side)
			}
			d.Side = side
			d.Source = source
			slots[side] = &d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Distribution
	for _, d := range slots {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func tallyFor(m map[string]*Tally, key string) *Tally {
	t, ok := m[key]
	if !ok {
		t = &Tally{}
		m[key] = t
	}
	return t
}

func topConfusions(m map[[2]string]int, n int) []Misclassification {
	out := make([]Misclassification, 0, len(m))
	for k, c := range m {
		out = append(out, Misclassification{Predicted: k[0], Actual: k[1], Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Predicted != out[j].Predicted {
			return out[i].Predicted < out[j].Predicted
		}
		return out[i].Actual < out[j].Actual
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
