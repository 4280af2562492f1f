package model

import (
	"encoding/json"
	"strings"
	"time"
)

// MinScore and MaxScore bound the score domain. Threshold ranges must tile
// [MinScore, MaxScore] exactly.
const (
	MinScore = 0
	MaxScore = 100
)

// Score is a nullable per-side score.
type Score struct {
	Value float64
	Valid bool
}

// InDomain reports whether the score is present and within [MinScore, MaxScore].
func (s Score) InDomain() bool {
	return s.Valid && s.Value >= MinScore && s.Value <= MaxScore
}

// SideScores holds one score slot per side, indexed by Side.
type SideScores [NumSides]Score

// NewSideScores builds SideScores from a side → value map. Sides absent from
// the map are left null.
func NewSideScores(values map[Side]float64) SideScores {
	var s SideScores
	for side, v := range values {
		if side.Valid() {
			s[side] = Score{Value: v, Valid: true}
		}
	}
	return s
}

// Get returns the score for a side and whether it is present.
func (s SideScores) Get(side Side) (float64, bool) {
	if !side.Valid() {
		return 0, false
	}
	sc := s[side]
	return sc.Value, sc.Valid
}

// Present returns the sides that carry a score, in canonical order.
func (s SideScores) Present() []Side {
	var out []Side
	for i, sc := range s {
		if sc.Valid {
			out = append(out, Side(i))
		}
	}
	return out
}

// Any reports whether at least one side carries a score.
func (s SideScores) Any() bool {
	for _, sc := range s {
		if sc.Valid {
			return true
		}
	}
	return false
}

// MarshalJSON renders present scores as {"top": 40, ...}.
func (s SideScores) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, NumSides)
	for i, sc := range s {
		if sc.Valid {
			m[Side(i).String()] = sc.Value
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts {"top": 40, "front": null, ...}.
func (s *SideScores) UnmarshalJSON(b []byte) error {
	var m map[string]*float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out SideScores
	for name, v := range m {
		side, err := ParseSide(name)
		if err != nil {
			return err
		}
		if v != nil {
			out[side] = Score{Value: *v, Valid: true}
		}
	}
	*s = out
	return nil
}

// Record is one unit under classification. Records are values; the engine
// derives labels from them and never writes back.
type Record struct {
	ID             string     `json:"id"`
	QuoteDate      time.Time  `json:"quote_date"`
	Scores         SideScores `json:"scores"`
	NewScores      SideScores `json:"new_scores"`
	FinalAnswer    string     `json:"final_answer"`
	DeployedAnswer string     `json:"deployed_answer,omitempty"`
	NewAnswer      string     `json:"new_answer,omitempty"`
}

// ScoresFor returns the per-side scores produced by the given model.
func (r Record) ScoresFor(src Source) SideScores {
	if src == SourceNew {
		return r.NewScores
	}
	return r.Scores
}

// HasActual reports whether the record carries a usable ground-truth label.
func (r Record) HasActual() bool {
	return !IsBlankLabel(r.FinalAnswer)
}

// IsBlankLabel reports whether a label value is empty or a textual null
// marker left behind by spreadsheet exports.
func IsBlankLabel(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "nan", "null", "none", "<na>":
		return true
	}
	return false
}
