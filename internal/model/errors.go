package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyDataset is reported when no record survives filtering, so no
// accuracy can be computed.
var ErrEmptyDataset = errors.New("model: no usable records")

// ConfigurationError reports a broken threshold configuration: ranges that
// are non-contiguous, overlapping, out of the score domain, or a score that
// matches zero or several ranges. It is fatal for the call that raised it.
type ConfigurationError struct {
	Question string
	Side     string
	Category string
	Score    *float64
	Reason   string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Question != "" {
		b.WriteString(" question=")
		b.WriteString(e.Question)
	}
	if e.Side != "" {
		b.WriteString(" side=")
		b.WriteString(e.Side)
	}
	if e.Category != "" {
		b.WriteString(" category=")
		b.WriteString(strconv.Quote(e.Category))
	}
	if e.Score != nil {
		b.WriteString(" score=")
		b.WriteString(strconv.FormatFloat(*e.Score, 'f', -1, 64))
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(question, side, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Question: question,
		Side:     side,
		Reason:   fmt.Sprintf(format, args...),
	}
}

// WithScore attaches the offending score.
func (e *ConfigurationError) WithScore(score float64) *ConfigurationError {
	e.Score = &score
	return e
}

// MissingDataError reports a record that cannot contribute to a computation:
// no usable score on any side, or no ground-truth label. It is recoverable
// and counted per record, never raised for the whole operation.
type MissingDataError struct {
	RecordID string
	Field    string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("missing data: record %q has no usable %s", e.RecordID, e.Field)
}

// IsConfiguration returns true if err (or any error in its chain) is a
// ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsMissingData returns true if err (or any error in its chain) is a
// MissingDataError.
func IsMissingData(err error) bool {
	var me *MissingDataError
	return errors.As(err, &me)
}
