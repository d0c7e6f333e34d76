package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/domain/lifecycle"
	"github.com/crewdesk/taskengine/internal/events"
	"github.com/crewdesk/taskengine/internal/store"
)

// TransitionRecorder observes persisted status changes.
type TransitionRecorder interface {
	RecordTransition(from, to domain.TaskStatus)
}

// InstanceService provides task instance operations.
type InstanceService interface {
	// CreateOneOff creates a standalone task that belongs to no template. It
	// gets reminders and overdue handling like any materialized instance.
	CreateOneOff(ctx context.Context, actor Actor, fields domain.OneOffFields) (*domain.TaskInstance, error)

	// GetInstance retrieves a task of the actor's tenant.
	GetInstance(ctx context.Context, actor Actor, id uuid.UUID) (*domain.TaskInstance, error)

	// ListInstances lists the tasks of the actor's tenant, ordered by due instant.
	ListInstances(ctx context.Context, actor Actor, filter store.InstanceFilter) ([]*domain.TaskInstance, error)

	// Act applies a user action to a task and returns the updated task.
	// Disallowed actions fail with domain.ErrInvalidTransition.
	Act(ctx context.Context, actor Actor, id uuid.UUID, action lifecycle.Action) (*domain.TaskInstance, error)
}

type instanceServiceImpl struct {
	instances store.InstanceStore
	sink      events.Sink
	clock     clock.Clock
	recorder  TransitionRecorder
	logger    *slog.Logger
}

// NewInstanceService creates an InstanceService. recorder may be nil.
// It returns an error if any of the required dependencies are nil.
func NewInstanceService(
	instances store.InstanceStore,
	sink events.Sink,
	clk clock.Clock,
	recorder TransitionRecorder,
	logger *slog.Logger,
) (InstanceService, error) {
	if instances == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "instances cannot be nil"}
	}
	if sink == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "sink cannot be nil"}
	}
	if clk == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "clock cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &instanceServiceImpl{
		instances: instances,
		sink:      sink,
		clock:     clk,
		recorder:  recorder,
		logger:    logger.With("component", "instance_service"),
	}, nil
}

func (s *instanceServiceImpl) CreateOneOff(
	ctx context.Context,
	actor Actor,
	fields domain.OneOffFields,
) (*domain.TaskInstance, error) {
	now := s.clock.Now()
	inst, err := domain.NewOneOffInstance(actor.TenantID, actor.UserID, fields, now)
	if err != nil {
		return nil, NewServiceError("create_task", "invalid task", err)
	}

	if err := s.instances.Create(ctx, inst); err != nil {
		s.logger.Error("failed to save task",
			"error", err,
			"tenant_id", actor.TenantID,
			"instance_id", inst.ID)
		return nil, NewServiceError("create_task", "failed to save task", err)
	}

	s.logger.Info("one-off task created",
		"instance_id", inst.ID,
		"tenant_id", inst.TenantID,
		"due_at", inst.DueAt)
	s.notify(ctx, inst, domain.NotifyAssigned, domain.Recipients(inst.Assignees), now)
	return inst, nil
}

func (s *instanceServiceImpl) GetInstance(ctx context.Context, actor Actor, id uuid.UUID) (*domain.TaskInstance, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, NewServiceError("get_task", "failed to load task", err)
	}
	if inst.TenantID != actor.TenantID {
		return nil, ErrInstanceNotFound
	}
	return inst, nil
}

func (s *instanceServiceImpl) ListInstances(
	ctx context.Context,
	actor Actor,
	filter store.InstanceFilter,
) ([]*domain.TaskInstance, error) {
	list, err := s.instances.ListByTenant(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, NewServiceError("list_tasks", "failed to list tasks", err)
	}
	return list, nil
}

func (s *instanceServiceImpl) Act(
	ctx context.Context,
	actor Actor,
	id uuid.UUID,
	action lifecycle.Action,
) (*domain.TaskInstance, error) {
	inst, err := s.GetInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	res, err := lifecycle.Apply(inst, action, now)
	if err != nil {
		return nil, err
	}
	if !res.Changed() {
		return inst, nil
	}

	change := store.StatusChange{
		From:        res.From,
		To:          res.To,
		CompletedAt: res.CompletedAt,
		At:          now,
	}
	for _, in := range res.Intents {
		if in.Kind == lifecycle.IntentCancelReminders {
			change.CancelReminders = true
		}
	}

	if err := s.instances.UpdateStatus(ctx, inst.ID, change); err != nil {
		s.logger.Warn("failed to persist status change",
			"error", err,
			"instance_id", inst.ID,
			"action", action,
			"from", res.From,
			"to", res.To)
		return nil, NewServiceError("act", "failed to save status", err)
	}

	inst.Status = res.To
	inst.CompletedAt = res.CompletedAt
	inst.UpdatedAt = now.UTC()
	if s.recorder != nil {
		s.recorder.RecordTransition(res.From, res.To)
	}
	s.logger.Info("task status changed",
		"instance_id", inst.ID,
		"actor_id", actor.UserID,
		"action", action,
		"from", res.From,
		"to", res.To)

	for _, in := range res.Intents {
		if in.Kind == lifecycle.IntentNotify {
			s.notify(ctx, inst, in.Event, in.Recipients, now)
		}
	}
	return inst, nil
}

// notify is best effort: the status change is already persisted and is not
// undone when the sink refuses.
func (s *instanceServiceImpl) notify(
	ctx context.Context,
	inst *domain.TaskInstance,
	kind domain.NotificationKind,
	recipients []uuid.UUID,
	now time.Time,
) {
	if len(recipients) == 0 {
		return
	}
	n, err := events.ForInstance(kind, inst, recipients, "", now)
	if err != nil {
		s.logger.Error("failed to build notification", "error", err, "kind", kind)
		return
	}
	if err := s.sink.Dispatch(ctx, n); err != nil {
		s.logger.Warn("notification not dispatched",
			"instance_id", inst.ID,
			"kind", kind,
			"error", events.Classify(err))
	}
}
