package schedule

import (
	"errors"
	"fmt"

	"showsched/internal/store"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = store.ErrNotFound
	ErrInventoryInvariant = errors.New("tickets sold would exceed tickets available")
	ErrConcurrentUpdate   = errors.New("inventory changed concurrently, retries exhausted")
)

// ValidationError names the offending request field. It matches
// ErrValidation and, when set, the underlying cause.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func invalidCause(field, reason string, err error) error {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

// FieldOf returns the offending field for validation and invariant errors,
// or "" for anything else.
func FieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	if errors.Is(err, ErrInventoryInvariant) {
		return "tickets_sold"
	}
	return ""
}
