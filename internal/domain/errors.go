package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidTitle    = errors.New("invalid title")
	ErrInvalidParentID = errors.New("invalid parent id")
	ErrInvalidKind     = errors.New("invalid kind")
	ErrInvalidOverride = errors.New("invalid status override")

	// ErrValidation matches every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrCycle matches every CycleError.
	ErrCycle = errors.New("circular dependency")
	// ErrInvariantViolation matches every InvariantViolation.
	ErrInvariantViolation = errors.New("invariant violation")
)

// ValidationError reports a caller-supplied value outside its allowed range.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CycleError reports an edge that would close a cycle. Path lists the ids of
// the cycle that the rejected edge would have created, starting and ending at
// the same id.
type CycleError struct {
	From string
	To   string
	Path []string
}

// Error implements error.
func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("%s -> %s would create a circular dependency", e.From, e.To)
	}
	return fmt.Sprintf("%s -> %s would create a circular dependency (%s)", e.From, e.To, strings.Join(e.Path, " -> "))
}

// Unwrap lets errors.Is match ErrCycle.
func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// InvariantViolation reports corrupted input that should have been rejected upstream.
type InvariantViolation struct {
	ItemID string
	Detail string
}

// Error implements error.
func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on %q: %s", e.ItemID, e.Detail)
}

// Unwrap lets errors.Is match ErrInvariantViolation.
func (e *InvariantViolation) Unwrap() error {
	return ErrInvariantViolation
}
