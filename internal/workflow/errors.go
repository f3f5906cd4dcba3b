package workflow

import (
	"errors"
	"fmt"

	"foodsafe-workflow/internal/status"
	"foodsafe-workflow/internal/store"
)

// ValidationError rejects an illegal transition or a rule violation. It is
// surfaced to the caller with a human-readable reason and never retried.
type ValidationError struct {
	Entity status.EntityType
	From   string
	To     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.From != "" || e.To != "" {
		return fmt.Sprintf("invalid %s transition [%s -> %s]: %s", e.Entity, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid %s operation: %s", e.Entity, e.Reason)
}

// NotFoundError reports a missing record or source reference.
type NotFoundError struct {
	Entity status.EntityType
	ID     string
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ConflictError rejects an operation that contradicts current record state,
// such as linking new corrective work to a closed CAPA.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// TransportError wraps a store failure. Retryable by the caller; engine
// operations are idempotent so a retry converges rather than duplicating
// side effects.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var v *ConflictError
	return errors.As(err, &v)
}

// classify maps a store error onto the engine taxonomy so callers can tell
// a missing record from an unreachable store.
func classify(entity status.EntityType, id, op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
