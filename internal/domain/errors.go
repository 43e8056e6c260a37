package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad query ranges or filter shapes. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrAuthorizationExpired is fatal to the polling loop until re-authorization.
	ErrAuthorizationExpired = errors.New("authorization expired")
	// ErrNotFound marks a single missing entity or record.
	ErrNotFound = errors.New("not found")
	// ErrTransientIO marks store or network failures that a later attempt may not hit.
	ErrTransientIO = errors.New("transient io error")
	// ErrOutOfOrderObservation marks an observation older than the entity's open interval.
	ErrOutOfOrderObservation = errors.New("out of order observation")
	// ErrConcurrentModification means the open interval changed under a transition.
	ErrConcurrentModification = errors.New("open interval modified concurrently")
)

// ValidationError describes which input was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidation) match any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
