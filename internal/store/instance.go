package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
)

// StatusChange is a compare-and-set update of an instance status.
type StatusChange struct {
	From        domain.TaskStatus
	To          domain.TaskStatus
	CompletedAt *time.Time
	At          time.Time
	// CancelReminders discards every unfired reminder fire of the instance in
	// the same atomic step.
	CancelReminders bool
}

// InstanceFilter narrows ListByTenant.
type InstanceFilter struct {
	Status     *domain.TaskStatus
	TemplateID *uuid.UUID
}

// InstanceStore defines the interface for task instance persistence.
type InstanceStore interface {
	// Create saves a new task instance.
	// Returns ErrInstanceExists (an ErrDuplicate) when an instance for the
	// same (template, period) pair already exists. This is enforced by a
	// uniqueness constraint and holds across concurrent callers.
	Create(ctx context.Context, inst *domain.TaskInstance) error

	// GetByID retrieves an instance by its unique ID.
	// Returns ErrInstanceNotFound if the instance does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskInstance, error)

	// GetByPeriod retrieves the instance materialized for a template period.
	// Returns ErrInstanceNotFound if the period was not materialized.
	GetByPeriod(ctx context.Context, templateID uuid.UUID, periodKey string) (*domain.TaskInstance, error)

	// ListOpen returns every instance whose status is not terminal, ordered
	// by due instant.
	ListOpen(ctx context.Context) ([]*domain.TaskInstance, error)

	// ListByTenant returns the instances of a tenant matching the filter,
	// ordered by due instant.
	ListByTenant(ctx context.Context, tenantID uuid.UUID, filter InstanceFilter) ([]*domain.TaskInstance, error)

	// UpdateStatus applies change if the stored status still equals
	// change.From.
	// Returns ErrConflict when another writer changed the status first, and
	// ErrInstanceNotFound if the instance does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, change StatusChange) error
}
