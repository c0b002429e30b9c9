package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies rebalance failures so that every caller can handle
// each failure mode explicitly instead of relying on string matching.
type ErrorKind string

const (
	// KindDataUnavailable - market inputs missing or incomplete; abort, never guess
	KindDataUnavailable ErrorKind = "data_unavailable"
	// KindModelUnavailable - ranker/optimizer unreachable or degenerate output
	KindModelUnavailable ErrorKind = "model_unavailable"
	// KindConstraintViolation - risk limits unmet after clipping; requires human review
	KindConstraintViolation ErrorKind = "constraint_violation"
	// KindExecutionFailure - a single trade rejected or timed out by the brokerage
	KindExecutionFailure ErrorKind = "execution_failure"
	// KindConcurrencyConflict - duplicate in-flight rebalance for an account
	KindConcurrencyConflict ErrorKind = "concurrency_conflict"
	// KindInternal - unexpected failure not covered by the taxonomy
	KindInternal ErrorKind = "internal"
)

// Error is the structured error carried through the rebalance pipeline.
// Stage names the pipeline stage that produced it so audit rows keep
// full context.
type Error struct {
	Kind  ErrorKind
	Stage string
	Msg   string
	Err   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Stage, e.Msg)
}

// Unwrap returns the wrapped error for errors.Is/As chains
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a structured pipeline error
func NewError(kind ErrorKind, stage, msg string) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: msg}
}

// WrapError creates a structured pipeline error wrapping a cause
func WrapError(kind ErrorKind, stage, msg string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: msg, Err: err}
}

// KindOf extracts the error kind from any error in the chain.
// Returns KindInternal for errors outside the taxonomy and an empty
// kind for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// StageOf extracts the pipeline stage from any error in the chain
func StageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Stage
	}
	return ""
}
