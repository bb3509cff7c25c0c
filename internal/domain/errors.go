package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad input. No state was mutated.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing order or payment attempt.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an actor that may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrStaleState marks an optimistic-concurrency conflict; callers must refetch.
	ErrStaleState = errors.New("stale state")
	// ErrIllegalTransition marks a status change outside the lifecycle graph.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrTransientProcessor marks a network or timeout failure talking to the
	// payment processor. The outcome is unknown and must be retried.
	ErrTransientProcessor = errors.New("transient processor error")
	// ErrReconciliationAmbiguous marks a client-observed success that the
	// backend could not confirm. A second payment must not be attempted.
	ErrReconciliationAmbiguous = errors.New("reconciliation ambiguous")
)

// ValidationError describes which field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StaleStateError reports the version the caller expected and the version found.
type StaleStateError struct {
	OrderID  string
	Expected int64
	Actual   int64
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state: order %s expected version %d, current version %d", e.OrderID, e.Expected, e.Actual)
}

func (e *StaleStateError) Is(target error) bool { return target == ErrStaleState }

// TransitionError reports a rejected status change.
type TransitionError struct {
	From   OrderStatus
	To     OrderStatus
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("illegal transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// Wire codes carried in API error bodies.
const (
	CodeValidation = "validation_failed"
	CodeNotFound   = "not_found"
	CodeForbidden  = "forbidden"
	CodeStaleState = "stale_state"
	CodeIllegal    = "illegal_transition"
	CodeTransient  = "processor_unavailable"
	CodeAmbiguous  = "reconciliation_ambiguous"
	CodeInternal   = "internal"
)

var codeSentinels = []struct {
	code string
	err  error
}{
	{CodeValidation, ErrValidation},
	{CodeNotFound, ErrNotFound},
	{CodeForbidden, ErrForbidden},
	{CodeStaleState, ErrStaleState},
	{CodeIllegal, ErrIllegalTransition},
	{CodeTransient, ErrTransientProcessor},
	{CodeAmbiguous, ErrReconciliationAmbiguous},
}

// Code classifies err into its wire code.
func Code(err error) string {
	for _, c := range codeSentinels {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromCode returns the sentinel for a wire code, or nil when unknown.
func FromCode(code string) error {
	for _, c := range codeSentinels {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
