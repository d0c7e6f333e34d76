package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/domain/schedule"
	"github.com/crewdesk/taskengine/internal/events"
	"github.com/crewdesk/taskengine/internal/platform/logger"
	"github.com/crewdesk/taskengine/internal/store"
)

// Materializer turns due periods of a template into task instances.
type Materializer struct {
	templates store.TemplateStore
	instances store.InstanceStore
	sink      events.Sink
	clock     clock.Clock
	metrics   *Metrics
	logger    *slog.Logger
}

// NewMaterializer creates a Materializer. sink and metrics may be nil.
func NewMaterializer(
	templates store.TemplateStore,
	instances store.InstanceStore,
	sink events.Sink,
	clk clock.Clock,
	metrics *Metrics,
	log *slog.Logger,
) *Materializer {
	if log == nil {
		log = slog.Default()
	}
	return &Materializer{
		templates: templates,
		instances: instances,
		sink:      sink,
		clock:     clk,
		metrics:   metrics,
		logger:    log.With("component", "materializer"),
	}
}

// Materialize creates the instance of tmpl for period and advances the
// template's cursor past it.
//
// When the period was already materialized, by an earlier tick or by another
// engine racing this one, the existing instance is returned with created set
// to false. The uniqueness constraint of the store decides the race.
//
// When tmpl was rescheduled after it was loaded the cursor is not moved and
// the error wraps store.ErrTemplateRescheduled.
func (m *Materializer) Materialize(
	ctx context.Context,
	tmpl *domain.RecurringTemplate,
	period schedule.Period,
) (*domain.TaskInstance, bool, error) {
	log := logger.FromContextOrDefault(ctx, m.logger).With(
		"template_id", tmpl.ID,
		"period", period.Key)
	now := m.clock.Now()

	inst, err := domain.NewTemplateInstance(tmpl, period.Key, period.DueAt, now)
	if err != nil {
		return nil, false, fmt.Errorf("building instance for period %s: %w", period.Key, err)
	}

	created := true
	if err := m.instances.Create(ctx, inst); err != nil {
		if !store.IsDuplicateError(err) {
			return nil, false, fmt.Errorf("creating instance for period %s: %w", period.Key, err)
		}
		existing, err := m.instances.GetByPeriod(ctx, tmpl.ID, period.Key)
		if err != nil {
			return nil, false, fmt.Errorf("loading existing instance for period %s: %w", period.Key, err)
		}
		inst, created = existing, false
		log.Debug("period already materialized", "instance_id", inst.ID)
	}
	m.metrics.RecordMaterialization(created)

	if created {
		log.Info("instance materialized",
			"instance_id", inst.ID,
			"due_at", inst.DueAt)
		m.notifyAssigned(ctx, log, inst, now)
	}

	if err := m.templates.AdvanceCursor(ctx, tmpl.ID, tmpl.AnchorAt, period.End); err != nil {
		return inst, created, fmt.Errorf("advancing cursor past period %s: %w", period.Key, err)
	}
	return inst, created, nil
}

// notifyAssigned is best effort. A lost assignment notice is not retried;
// the reminders of the instance still fire.
func (m *Materializer) notifyAssigned(ctx context.Context, log *slog.Logger, inst *domain.TaskInstance, now time.Time) {
	if m.sink == nil {
		return
	}
	n, err := events.ForInstance(domain.NotifyAssigned, inst, domain.Recipients(inst.Assignees), "", now)
	if err != nil {
		log.Error("failed to build assignment notification", "error", err)
		return
	}
	if err := m.sink.Dispatch(ctx, n); err != nil {
		m.metrics.RecordDispatchFailure(domain.NotifyAssigned)
		log.Warn("assignment notification not dispatched",
			"instance_id", inst.ID,
			"error", events.Classify(err))
	}
}
