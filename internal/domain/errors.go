// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is usually wrapped in a *ValidationError naming the offending field.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidRecurrence is returned for a recurrence value outside the closed set.
	ErrInvalidRecurrence = errors.New("invalid recurrence")

	// ErrInvalidPriority is returned for a priority value outside the closed set.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrInvalidReminderOffset is returned for a reminder offset label outside the closed set.
	ErrInvalidReminderOffset = errors.New("invalid reminder offset")

	// ErrInvalidStatus is returned for a task status value outside the closed set.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when a status transition is not allowed
	// from the instance's current status. The instance is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTemplateRetired is returned when mutating a template that no longer
	// produces instances.
	ErrTemplateRetired = errors.New("template is retired")
)

// ValidationError describes a single field that failed validation.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel so errors.Is(err, ErrValidation) holds
// for every ValidationError.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil || errors.Is(e.Err, ErrValidation) {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}
