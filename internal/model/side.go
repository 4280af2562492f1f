package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Side identifies one photographed face of a unit.
type Side int

// Sides in canonical traversal order. Every deterministic iteration over
// sides in this module follows this order.
const (
	SideTop Side = iota
	SideBottom
	SideLeft
	SideRight
	SideBack
	SideFront

	NumSides = 6
)

var sideNames = [NumSides]string{"top", "bottom", "left", "right", "back", "front"}

// AllSides returns every side in canonical order.
func AllSides() []Side {
	return []Side{SideTop, SideBottom, SideLeft, SideRight, SideBack, SideFront}
}

// String returns the lower-case side name used in threshold documents and
// record column prefixes.
func (s Side) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return sideNames[s]
}

// Valid reports whether s is one of the six known sides.
func (s Side) Valid() bool {
	return s >= 0 && int(s) < NumSides
}

// ParseSide converts a side name (case-insensitive) to a Side.
func ParseSide(name string) (Side, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, sn := range sideNames {
		if sn == n {
			return Side(i), nil
		}
	}
	return 0, eris.Errorf("model: unknown side %q", name)
}

// MarshalText renders the side name.
func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, eris.Errorf("model: invalid side %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a side name.
func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// JoinSides renders sides as a comma separated list, e.g. "top, front".
func JoinSides(sides []Side) string {
	names := make([]string, len(sides))
	for i, s := range sides {
		names[i] = s.String()
	}
	return strings.Join(names, ", ")
}

// Source selects which model's per-side scores a computation reads.
type Source string

const (
	// SourceDeployed reads the currently deployed model's scores.
	SourceDeployed Source = "old"
	// SourceNew reads the candidate model's scores.
	SourceNew Source = "new"
)

// ParseSource normalizes a model selector. Unknown or empty values fall back
// to the deployed model.
func ParseSource(s string) Source {
	if strings.EqualFold(strings.TrimSpace(s), string(SourceNew)) {
		return SourceNew
	}
	return SourceDeployed
}
