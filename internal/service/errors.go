package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/store"
)

// Common service errors - sentinel errors used across service implementations.
// Callers check for them with errors.Is. The API layer maps them to HTTP
// status codes.
var (
	// ErrTemplateNotFound indicates that the template does not exist in the
	// actor's tenant. API layer should map this to HTTP 404 Not Found.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInstanceNotFound indicates that the task does not exist in the
	// actor's tenant. API layer should map this to HTTP 404 Not Found.
	ErrInstanceNotFound = errors.New("task not found")

	// ErrStatusConflict indicates that the task status changed between reading
	// it and writing the transition. API layer should map this to HTTP 409.
	ErrStatusConflict = errors.New("task status changed concurrently")
)

// Actor is the authenticated user on whose behalf a use case runs.
type Actor struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
}

// ServiceError wraps errors from a service operation with context.
type ServiceError struct {
	// Operation is the operation that failed (e.g., "create_template", "act")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
// Store sentinels with a service equivalent are translated and returned
// directly without wrapping.
func NewServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrTemplateNotFound), errors.Is(err, store.ErrTemplateNotFound):
		return ErrTemplateNotFound
	case errors.Is(err, ErrInstanceNotFound), errors.Is(err, store.ErrInstanceNotFound):
		return ErrInstanceNotFound
	case errors.Is(err, ErrStatusConflict), errors.Is(err, store.ErrConflict):
		return ErrStatusConflict
	}

	return &ServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
