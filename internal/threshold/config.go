// Package threshold holds the validated, immutable score-range configuration
// that maps per-side scores to condition categories.
package threshold

import (
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/sells-group/condition-eval/internal/model"
)

// DefaultQuestion is consulted when a lookup names a question the
// configuration does not define.
const DefaultQuestion = "default"

// Range is one category's inclusive integer score range.
type Range struct {
	Category string `json:"category"`
	Min      int    `json:"min"`
	Max      int    `json:"max"`
}

// Contains reports whether score falls in the range. Integer scores match
// [Min, Max] inclusively; a fractional score belongs to the range that owns
// its integer floor, so contiguous integer ranges leave no gaps.
func (r Range) Contains(score float64) bool {
	return score >= float64(r.Min) && score < float64(r.Max)+1
}

// Question is the validated configuration of one question.
type Question struct {
	name     string
	severity []string
	rank     map[string]int
	sides    [model.NumSides][]Range
}

// Config is an immutable, validated threshold configuration. Derived
// configurations are produced with WithRanges / WithBoundaries; the receiver
// is never modified, so a *Config may be shared across goroutines.
type Config struct {
	questions map[string]*Question
	merges    map[string]map[string]string
}

// New validates a threshold document and builds a Config. Every invariant is
// checked here; a Config that exists is well-formed.
func New(doc Document) (*Config, error) {
	if len(doc.Questions) == 0 {
		return nil, model.NewConfigurationError("", "", "no questions defined")
	}

	cfg := &Config{
		questions: make(map[string]*Question, len(doc.Questions)),
		merges:    copyMerges(doc.LabelMerges),
	}

	var errs []error
	for _, name := range sortedKeys(doc.Questions) {
		q, err := buildQuestion(name, doc.Questions[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cfg.questions[name] = q
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildQuestion(name string, qd QuestionDoc) (*Question, error) {
	if len(qd.Sides) == 0 {
		return nil, model.NewConfigurationError(name, "", "no sides defined")
	}

	severity := qd.Severity
	if len(severity) == 0 {
		severity = deriveSeverity(qd.Sides)
	}

	q := &Question{
		name:     name,
		severity: make([]string, 0, len(severity)),
		rank:     make(map[string]int, len(severity)),
	}
	for _, cat := range severity {
		cat = strings.TrimSpace(cat)
		key := labelKey(cat)
		if key == "" {
			return nil, model.NewConfigurationError(name, "", "empty category in severity order")
		}
		if model.IsBlankLabel(cat) {
			return nil, model.NewConfigurationError(name, "", "category %q is reserved for missing labels", cat)
		}
		if _, dup := q.rank[key]; dup {
			return nil, model.NewConfigurationError(name, "", "category %q repeated in severity order", cat)
		}
		q.rank[key] = len(q.severity)
		q.severity = append(q.severity, cat)
	}

	var errs []error
	for _, sideName := range sortedKeys(qd.Sides) {
		side, err := model.ParseSide(sideName)
		if err != nil {
			errs = append(errs, model.NewConfigurationError(name, sideName, "unknown side"))
			continue
		}
		ranges := make([]Range, 0, len(qd.Sides[sideName]))
		for cat, bounds := range qd.Sides[sideName] {
			ranges = append(ranges, Range{Category: strings.TrimSpace(cat), Min: bounds[0], Max: bounds[1]})
		}
		sortRanges(ranges)
		if err := q.validateSide(side, ranges); err != nil {
			errs = append(errs, err)
			continue
		}
		q.sides[side] = ranges
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return q, nil
}

// joinErrors collapses validation failures into one ConfigurationError. A
// single failure is returned as is.
func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return model.NewConfigurationError("", "", "%d problems: %s", len(errs), strings.Join(msgs, "; "))
}

// validateSide checks the tiling and severity invariants of one side's ranges.
// ranges must already be sorted by Min.
func (q *Question) validateSide(side model.Side, ranges []Range) error {
	fail := func(format string, args ...any) error {
		return model.NewConfigurationError(q.name, side.String(), format, args...)
	}

	if len(ranges) == 0 {
		return fail("no categories defined")
	}

	seen := make(map[string]bool, len(ranges))
	prevRank := -1
	for i, r := range ranges {
		key := labelKey(r.Category)
		if key == "" {
			return fail("empty category name")
		}
		if model.IsBlankLabel(r.Category) {
			return fail("category %q is reserved for missing labels", r.Category)
		}
		if seen[key] {
			return fail("category %q defined twice", r.Category)
		}
		seen[key] = true

		rank, ok := q.rank[key]
		if !ok {
			return fail("category %q missing from severity order", r.Category)
		}
		if rank <= prevRank {
			return fail("category %q out of severity order: ranges must ascend in severity", r.Category)
		}
		prevRank = rank

		if r.Min < model.MinScore || r.Max > model.MaxScore {
			return fail("category %q range [%d, %d] outside [%d, %d]", r.Category, r.Min, r.Max, model.MinScore, model.MaxScore)
		}
		if r.Min > r.Max {
			return fail("category %q range [%d, %d] is empty", r.Category, r.Min, r.Max)
		}
		if i == 0 && r.Min != model.MinScore {
			return fail("gap: scores [%d, %d] not covered", model.MinScore, r.Min-1)
		}
		if i > 0 {
			prev := ranges[i-1]
			switch {
			case prev.Max+1 < r.Min:
				return fail("gap: scores [%d, %d] not covered", prev.Max+1, r.Min-1)
			case prev.Max >= r.Min:
				return fail("overlap: %q and %q both cover [%d, %d]", prev.Category, r.Category, r.Min, prev.Max)
			}
		}
	}
	if last := ranges[len(ranges)-1]; last.Max != model.MaxScore {
		return fail("gap: scores [%d, %d] not covered", last.Max+1, model.MaxScore)
	}
	return nil
}

// deriveSeverity orders categories by their highest max score across sides:
// a higher max means a more severe category. Returned ascending.
func deriveSeverity(sides map[string]map[string][2]int) []string {
	maxByCat := make(map[string]int)
	for _, cats := range sides {
		for cat, bounds := range cats {
			cat = strings.TrimSpace(cat)
			if cur, ok := maxByCat[cat]; !ok || bounds[1] > cur {
				maxByCat[cat] = bounds[1]
			}
		}
	}
	out := make([]string, 0, len(maxByCat))
	for cat := range maxByCat {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool {
		if maxByCat[out[i]] != maxByCat[out[j]] {
			return maxByCat[out[i]] < maxByCat[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Question returns the named question, falling back to DefaultQuestion.
func (c *Config) Question(name string) (*Question, error) {
	if q, ok := c.questions[name]; ok {
		return q, nil
	}
	if q, ok := c.questions[DefaultQuestion]; ok {
		return q, nil
	}
	return nil, model.NewConfigurationError(name, "", "question not configured")
}

// Questions returns the configured question names, sorted.
func (c *Config) Questions() []string {
	return sortedKeys(c.questions)
}

// LabelMerges returns a copy of the document's per-question label merges.
func (c *Config) LabelMerges() map[string]map[string]string {
	return copyMerges(c.merges)
}

// Classify maps one side's score to its category under this configuration.
func (c *Config) Classify(question string, side model.Side, score float64) (string, error) {
	q, err := c.Question(question)
	if err != nil {
		return "", err
	}
	return q.Classify(side, score)
}

// WithRanges returns a copy of c with one side's ranges replaced. The result
// is validated; c is untouched.
func (c *Config) WithRanges(question string, side model.Side, ranges []Range) (*Config, error) {
	q, err := c.Question(question)
	if err != nil {
		return nil, err
	}
	if !side.Valid() {
		return nil, model.NewConfigurationError(q.name, side.String(), "unknown side")
	}
	sorted := append([]Range(nil), ranges...)
	for i := range sorted {
		sorted[i].Category = strings.TrimSpace(sorted[i].Category)
	}
	sortRanges(sorted)
	if err := q.validateSide(side, sorted); err != nil {
		return nil, err
	}

	nq := *q
	nq.sides[side] = sorted

	out := &Config{
		questions: make(map[string]*Question, len(c.questions)),
		merges:    c.merges,
	}
	for name, existing := range c.questions {
		out.questions[name] = existing
	}
	out.questions[q.name] = &nq
	return out, nil
}

// WithBoundaries returns a copy of c in which the lower bounds of a side's
// categories 1..n-1 are set to mins; each category's upper bound follows as
// next.Min-1. Category order is preserved.
func (c *Config) WithBoundaries(question string, side model.Side, mins []int) (*Config, error) {
	q, err := c.Question(question)
	if err != nil {
		return nil, err
	}
	current := q.Ranges(side)
	if len(current) == 0 {
		return nil, model.NewConfigurationError(q.name, side.String(), "side not configured")
	}
	if len(mins) != len(current)-1 {
		return nil, model.NewConfigurationError(q.name, side.String(),
			"expected %d boundaries, got %d", len(current)-1, len(mins))
	}
	for i := range mins {
		current[i+1].Min = mins[i]
		current[i].Max = mins[i] - 1
	}
	current[0].Min = model.MinScore
	current[len(current)-1].Max = model.MaxScore
	for i := 1; i < len(current); i++ {
		if current[i].Min <= current[i-1].Min {
			return nil, model.NewConfigurationError(q.name, side.String(),
				"boundary %d (%d) must exceed boundary %d (%d)", i, current[i].Min, i-1, current[i-1].Min)
		}
	}
	return c.WithRanges(q.name, side, current)
}

// Equal reports whether two configurations define identical questions.
func (c *Config) Equal(o *Config) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil || len(c.questions) != len(o.questions) {
		return false
	}
	for name, q := range c.questions {
		oq, ok := o.questions[name]
		if !ok || !q.equal(oq) {
			return false
		}
	}
	return true
}

// Name returns the question name.
func (q *Question) Name() string { return q.name }

// Severity returns the categories in ascending severity order.
func (q *Question) Severity() []string {
	return append([]string(nil), q.severity...)
}

// Rank returns the severity rank of a category (0 is least severe).
// Matching is case-insensitive and ignores surrounding whitespace.
func (q *Question) Rank(category string) (int, bool) {
	r, ok := q.rank[labelKey(category)]
	return r, ok
}

// LeastSevere returns the baseline "no defect" category.
func (q *Question) LeastSevere() string {
	return q.severity[0]
}

// Sides returns the configured sides in canonical order.
func (q *Question) Sides() []model.Side {
	var out []model.Side
	for i, rs := range q.sides {
		if len(rs) > 0 {
			out = append(out, model.Side(i))
		}
	}
	return out
}

// HasSide reports whether the side has ranges configured.
func (q *Question) HasSide(side model.Side) bool {
	return side.Valid() && len(q.sides[side]) > 0
}

// Ranges returns a copy of a side's ranges in ascending order.
func (q *Question) Ranges(side model.Side) []Range {
	if !side.Valid() {
		return nil
	}
	return append([]Range(nil), q.sides[side]...)
}

// Boundaries returns the lower bounds of categories 1..n-1 for a side: the
// free variables of the threshold search.
func (q *Question) Boundaries(side model.Side) []int {
	if !q.HasSide(side) {
		return nil
	}
	rs := q.sides[side]
	out := make([]int, 0, len(rs)-1)
	for _, r := range rs[1:] {
		out = append(out, r.Min)
	}
	return out
}

// Classify maps a score to a category using binary search over the side's
// validated boundaries.
func (q *Question) Classify(side model.Side, score float64) (string, error) {
	if !q.HasSide(side) {
		return "", model.NewConfigurationError(q.name, side.String(), "side not configured").WithScore(score)
	}
	rs := q.sides[side]
	if score < model.MinScore || score > model.MaxScore || math.IsNaN(score) {
		return "", model.NewConfigurationError(q.name, side.String(), "score outside [%d, %d]",
			model.MinScore, model.MaxScore).WithScore(score)
	}
	// First range whose upper edge lies above the score.
	i := sort.Search(len(rs), func(i int) bool { return score < float64(rs[i].Max)+1 })
	if i == len(rs) {
		i = len(rs) - 1
	}
	return rs[i].Category, nil
}

func (q *Question) equal(o *Question) bool {
	if q.name != o.name || len(q.severity) != len(o.severity) {
		return false
	}
	for i := range q.severity {
		if labelKey(q.severity[i]) != labelKey(o.severity[i]) {
			return false
		}
	}
	for s := range q.sides {
		if !rangesEqual(q.sides[s], o.sides[s]) {
			return false
		}
	}
	return true
}

func rangesEqual(a, b []Range) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Min != b[i].Min || a[i].Max != b[i].Max || labelKey(a[i].Category) != labelKey(b[i].Category) {
			return false
		}
	}
	return true
}

func sortRanges(rs []Range) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Min != rs[j].Min {
			return rs[i].Min < rs[j].Min
		}
		return rs[i].Max < rs[j].Max
	})
}

// labelKey is the comparison key for category names: trimmed and Unicode
// case-folded, the same folding the matrix normalizer applies.
func labelKey(s string) string {
	if v, ok := labelKeys.Load(s); ok {
		return v.(string)
	}
	key := cases.Fold().String(strings.TrimSpace(s))
	labelKeys.Store(s, key)
	return key
}

// labelKeys caches folded category names; the set of names is small.
var labelKeys sync.Map

// SameCategory reports whether two category names denote the same category.
func SameCategory(a, b string) bool {
	return labelKey(a) == labelKey(b)
}

func copyMerges(in map[string]map[string]string) map[string]map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]map[string]string, len(in))
	for q, m := range in {
		cp := make(map[string]string, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out[q] = cp
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
