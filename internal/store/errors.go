package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would violate a uniqueness
	// constraint, e.g. a second instance for the same (template, period).
	// Callers that rely on the constraint for idempotence treat it as
	// "already exists" rather than a failure.
	ErrDuplicate = errors.New("entity already exists")

	// ErrConflict is returned when a conditional update lost against a
	// concurrent writer, e.g. a status change whose expected old status no
	// longer matches.
	ErrConflict = errors.New("entity was modified concurrently")

	// ErrUnavailable is returned when the backing store cannot be reached or
	// did not answer in time. The operation may be retried later.
	ErrUnavailable = errors.New("store unavailable")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrTemplateNotFound indicates that the requested template does not exist.
	ErrTemplateNotFound = fmt.Errorf("%w: template", ErrNotFound)

	// ErrInstanceNotFound indicates that the requested task instance does not exist.
	ErrInstanceNotFound = fmt.Errorf("%w: task instance", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrInstanceExists indicates that the (template, period) pair was already materialized.
	ErrInstanceExists = fmt.Errorf("%w: task instance for period", ErrDuplicate)

	// ErrTemplateRescheduled indicates that the template was re-anchored after
	// the caller loaded it, so periods resolved from the old rule are stale.
	ErrTemplateRescheduled = fmt.Errorf("%w: template was rescheduled", ErrConflict)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsRetryable reports whether the failed operation may succeed when retried
// on a later tick.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConflict)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "template", "instance")
	Operation string // The operation that failed (e.g., "create", "claim")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
