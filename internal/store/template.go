package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/domain"
)

// TemplateStore defines the interface for recurring template persistence.
type TemplateStore interface {
	// Create saves a new template.
	// Returns validation errors if the template is invalid.
	Create(ctx context.Context, t *domain.RecurringTemplate) error

	// GetByID retrieves a template by its unique ID.
	// Returns ErrTemplateNotFound if the template does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RecurringTemplate, error)

	// Update persists the editable fields and anchor of t. Retirement is
	// never written here, see Retire.
	// When the anchor changed the materialization cursor is cleared;
	// otherwise the stored cursor is kept so a concurrent scheduler never
	// loses progress to a user edit.
	// Returns ErrTemplateNotFound if the template does not exist and
	// domain.ErrTemplateRetired if it was retired in the meantime.
	Update(ctx context.Context, t *domain.RecurringTemplate) error

	// Retire marks the template retired at the given instant. Retiring a
	// retired template keeps the first retirement and returns nil.
	// Returns ErrTemplateNotFound if the template does not exist.
	Retire(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListActive returns every template that still materializes instances:
	// not retired and with a recurrence other than none.
	ListActive(ctx context.Context) ([]*domain.RecurringTemplate, error)

	// ListByTenant returns the templates of a tenant, retired ones included,
	// newest first.
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.RecurringTemplate, error)

	// AdvanceCursor moves the materialization cursor of a template forward to
	// periodEnd. The cursor never moves backwards: when it is already at or
	// past periodEnd the call is a no-op.
	// anchorAt is the anchor the periods were resolved from. When the stored
	// anchor differs the template was rescheduled after it was loaded, the
	// cursor is left alone and ErrTemplateRescheduled is returned.
	AdvanceCursor(ctx context.Context, id uuid.UUID, anchorAt, periodEnd time.Time) error
}
