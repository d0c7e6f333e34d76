package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/store"
)

// TemplateService provides recurring template operations.
type TemplateService interface {
	// CreateTemplate creates a template anchored at the current instant. Its
	// first instance is materialized by the scheduler once a period is due.
	CreateTemplate(ctx context.Context, actor Actor, fields domain.TemplateFields) (*domain.RecurringTemplate, error)

	// GetTemplate retrieves a template of the actor's tenant.
	GetTemplate(ctx context.Context, actor Actor, id uuid.UUID) (*domain.RecurringTemplate, error)

	// ListTemplates lists the templates of the actor's tenant, retired ones included.
	ListTemplates(ctx context.Context, actor Actor) ([]*domain.RecurringTemplate, error)

	// UpdateTemplate replaces the editable fields of a template. Instances
	// already materialized keep their snapshot.
	UpdateTemplate(ctx context.Context, actor Actor, id uuid.UUID, fields domain.TemplateFields) (*domain.RecurringTemplate, error)

	// RetireTemplate stops a template from producing new instances.
	RetireTemplate(ctx context.Context, actor Actor, id uuid.UUID) (*domain.RecurringTemplate, error)
}

type templateServiceImpl struct {
	templates store.TemplateStore
	clock     clock.Clock
	logger    *slog.Logger
}

// NewTemplateService creates a TemplateService.
// It returns an error if any of the required dependencies are nil.
func NewTemplateService(templates store.TemplateStore, clk clock.Clock, logger *slog.Logger) (TemplateService, error) {
	if templates == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "templates cannot be nil"}
	}
	if clk == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "clock cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &templateServiceImpl{
		templates: templates,
		clock:     clk,
		logger:    logger.With("component", "template_service"),
	}, nil
}

func (s *templateServiceImpl) CreateTemplate(
	ctx context.Context,
	actor Actor,
	fields domain.TemplateFields,
) (*domain.RecurringTemplate, error) {
	tmpl, err := domain.NewRecurringTemplate(actor.TenantID, actor.UserID, fields, s.clock.Now())
	if err != nil {
		return nil, NewServiceError("create_template", "invalid template", err)
	}

	if err := s.templates.Create(ctx, tmpl); err != nil {
		s.logger.Error("failed to save template",
			"error", err,
			"tenant_id", actor.TenantID,
			"template_id", tmpl.ID)
		return nil, NewServiceError("create_template", "failed to save template", err)
	}

	s.logger.Info("template created",
		"template_id", tmpl.ID,
		"tenant_id", tmpl.TenantID,
		"recurrence", tmpl.Recurrence)
	return tmpl, nil
}

func (s *templateServiceImpl) GetTemplate(ctx context.Context, actor Actor, id uuid.UUID) (*domain.RecurringTemplate, error) {
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("get_template", "failed to load template", err)
	}
	if tmpl.TenantID != actor.TenantID {
		return nil, ErrTemplateNotFound
	}
	return tmpl, nil
}

func (s *templateServiceImpl) ListTemplates(ctx context.Context, actor Actor) ([]*domain.RecurringTemplate, error) {
	list, err := s.templates.ListByTenant(ctx, actor.TenantID)
	if err != nil {
		return nil, NewServiceError("list_templates", "failed to list templates", err)
	}
	return list, nil
}

func (s *templateServiceImpl) UpdateTemplate(
	ctx context.Context,
	actor Actor,
	id uuid.UUID,
	fields domain.TemplateFields,
) (*domain.RecurringTemplate, error) {
	tmpl, err := s.GetTemplate(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	previousAnchor := tmpl.AnchorAt
	if err := tmpl.Update(fields, s.clock.Now()); err != nil {
		return nil, NewServiceError("update_template", "invalid template", err)
	}
	if err := s.templates.Update(ctx, tmpl); err != nil {
		s.logger.Error("failed to update template",
			"error", err,
			"template_id", id)
		return nil, NewServiceError("update_template", "failed to save template", err)
	}

	s.logger.Info("template updated",
		"template_id", id,
		"rescheduled", !tmpl.AnchorAt.Equal(previousAnchor))
	return tmpl, nil
}

func (s *templateServiceImpl) RetireTemplate(ctx context.Context, actor Actor, id uuid.UUID) (*domain.RecurringTemplate, error) {
	tmpl, err := s.GetTemplate(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if tmpl.RetiredAt != nil {
		return tmpl, nil
	}

	if err := s.templates.Retire(ctx, id, s.clock.Now()); err != nil {
		s.logger.Error("failed to retire template",
			"error", err,
			"template_id", id)
		return nil, NewServiceError("retire_template", "failed to save template", err)
	}

	// a concurrent retirement may have won, report the stored one
	retired, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("retire_template", "failed to load template", err)
	}

	s.logger.Info("template retired", "template_id", id)
	return retired, nil
}
