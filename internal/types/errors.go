// ABOUTME: Error kinds reported by a scoring run.
// ABOUTME: Every failure is terminal for the run and carries the stage it happened in.

package types

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a scoring failure
type Kind string

const (
	KindInputNotFound     Kind = "InputNotFound"
	KindSchemaError       Kind = "SchemaError"
	KindNoOverlap         Kind = "NoOverlap"
	KindFeatureMismatch   Kind = "FeatureMismatch"
	KindNonNumericResidue Kind = "NonNumericResidue"
	KindModelLoadError    Kind = "ModelLoadError"
	KindInternal          Kind = "Internal"
)

// Sentinels for errors.Is checks against a ScoringError
var (
	ErrInputNotFound     = &ScoringError{Kind: KindInputNotFound}
	ErrSchema            = &ScoringError{Kind: KindSchemaError}
	ErrNoOverlap         = &ScoringError{Kind: KindNoOverlap}
	ErrFeatureMismatch   = &ScoringError{Kind: KindFeatureMismatch}
	ErrNonNumericResidue = &ScoringError{Kind: KindNonNumericResidue}
	ErrModelLoad         = &ScoringError{Kind: KindModelLoadError}
)

// ScoringError is the single structured failure a scoring run surfaces
type ScoringError struct {
	Kind    Kind
	Stage   string
	Message string
	Err     error
}

func (e *ScoringError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		b.WriteString(" during ")
		b.WriteString(e.Stage)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ScoringError) Unwrap() error {
	return e.Err
}

// Is matches any ScoringError of the same kind
func (e *ScoringError) Is(target error) bool {
	t, ok := target.(*ScoringError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a ScoringError with a formatted message
func NewError(kind Kind, format string, args ...interface{}) *ScoringError {
	return &ScoringError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a ScoringError around an underlying cause
func WrapError(kind Kind, err error, format string, args ...interface{}) *ScoringError {
	return &ScoringError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of a scoring failure, or KindInternal for any other error
func KindOf(err error) Kind {
	var scoringErr *ScoringError
	if errors.As(err, &scoringErr) {
		return scoringErr.Kind
	}
	return KindInternal
}
