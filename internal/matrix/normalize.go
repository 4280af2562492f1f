// Package matrix tabulates predicted against actual labels into confusion
// matrices with accuracy and sample-count summaries.
package matrix

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// DefaultMerges is the built-in label-merge table: for the panel question,
// glass damage is reviewed as a cracked or broken panel.
func DefaultMerges() map[string]map[string]string {
	return map[string]map[string]string{
		"physicalConditionPanel": {
			"glass panel damaged": "cracked or broken panel",
		},
	}
}

// Normalizer canonicalizes labels before tabulation: surrounding whitespace is
// trimmed, case is folded, then the question's merge table maps raw labels to
// their canonical label. The same Normalizer is applied to predicted and
// actual labels. Safe for concurrent use.
type Normalizer struct {
	merges map[string]map[string]string
	cache  sync.Map
}

// NewNormalizer builds a Normalizer from one or more merge tables
// (question → raw label → canonical label). Later tables override earlier
// ones. Question names and labels are matched case-insensitively.
func NewNormalizer(tables ...map[string]map[string]string) *Normalizer {
	n := &Normalizer{merges: make(map[string]map[string]string)}
	for _, table := range tables {
		for q, m := range table {
			qk := fold(q)
			if n.merges[qk] == nil {
				n.merges[qk] = make(map[string]string, len(m))
			}
			for raw, canonical := range m {
				n.merges[qk][fold(raw)] = fold(canonical)
			}
		}
	}
	return n
}

// Normalize returns the canonical form of label for question.
func (n *Normalizer) Normalize(question, label string) string {
	ck := question + "\x00" + label
	if v, ok := n.cache.Load(ck); ok {
		return v.(string)
	}
	out := fold(label)
	if m := n.merges[fold(question)]; m != nil {
		if canonical, ok := m[out]; ok {
			out = canonical
		}
	}
	n.cache.Store(ck, out)
	return out
}

// fold trims and case-folds. A Caser is stateful, so one is made per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
