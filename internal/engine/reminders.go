package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/domain/reminders"
	"github.com/crewdesk/taskengine/internal/events"
	"github.com/crewdesk/taskengine/internal/platform/logger"
	"github.com/crewdesk/taskengine/internal/store"
)

// FireOutcome summarizes one Process call.
type FireOutcome struct {
	// Fired counts fires the sink accepted and that were recorded.
	Fired int
	// Failed counts fires the sink rejected or did not answer in time.
	Failed int
}

// ReminderScheduler dispatches the due reminders of open instances.
//
// Each fire goes through the claim protocol of store.ReminderStore: the
// (instance, label) row is leased, the notification dispatched, and the row
// marked fired only when the sink accepted. A rejected or timed out dispatch
// releases the lease so the next tick retries it.
type ReminderScheduler struct {
	reminders   store.ReminderStore
	sink        events.Sink
	clock       clock.Clock
	lease       time.Duration
	stepTimeout time.Duration
	metrics     *Metrics
	logger      *slog.Logger
}

// NewReminderScheduler creates a ReminderScheduler. metrics may be nil.
func NewReminderScheduler(
	reminderStore store.ReminderStore,
	sink events.Sink,
	clk clock.Clock,
	cfg Config,
	metrics *Metrics,
	log *slog.Logger,
) *ReminderScheduler {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &ReminderScheduler{
		reminders:   reminderStore,
		sink:        sink,
		clock:       clk,
		lease:       cfg.ClaimLease,
		stepTimeout: cfg.StepTimeout,
		metrics:     metrics,
		logger:      log.With("component", "reminder_scheduler"),
	}
}

// Process fires every reminder of inst that is due and not yet fired, plus
// the overdue escalation when inst is overdue. Dispatch failures are counted
// in the outcome and retried on a later call; store failures are returned.
func (r *ReminderScheduler) Process(ctx context.Context, inst *domain.TaskInstance) (FireOutcome, error) {
	var out FireOutcome
	if inst.Status.Terminal() {
		return out, nil
	}
	log := logger.FromContextOrDefault(ctx, r.logger).With("instance_id", inst.ID)
	now := r.clock.Now()

	stepCtx, cancel := withStep(ctx, r.stepTimeout)
	fired, err := r.reminders.FiredLabels(stepCtx, inst.ID)
	cancel()
	if err != nil {
		return out, fmt.Errorf("loading fired reminders: %w", err)
	}

	var errs []error
	for _, f := range reminders.Due(inst, inst.ReminderOffsets, fired, now) {
		ok, err := r.fire(ctx, log, inst, f, now)
		switch {
		case errors.Is(err, events.ErrDispatchRejected), errors.Is(err, events.ErrDispatchTimeout):
			out.Failed++
		case err != nil:
			errs = append(errs, err)
		case ok:
			out.Fired++
		}
	}
	return out, errors.Join(errs...)
}

// fire runs the claim protocol for one fire. It returns false without error
// when another engine holds the fire or it was recorded already.
func (r *ReminderScheduler) fire(
	ctx context.Context,
	log *slog.Logger,
	inst *domain.TaskInstance,
	f reminders.Fire,
	now time.Time,
) (bool, error) {
	log = log.With("label", f.Label)

	stepCtx, cancel := withStep(ctx, r.stepTimeout)
	claim, claimed, err := r.reminders.Claim(stepCtx, inst.ID, f.Label, f.At, now, r.lease)
	cancel()
	if err != nil {
		return false, fmt.Errorf("claiming %s reminder: %w", f.Label, err)
	}
	if !claimed {
		log.Debug("reminder not claimable, skipping")
		return false, nil
	}

	kind, recipients := reminderAudience(inst, f.Label)
	n, err := events.ForFire(kind, inst, recipients, f.Label, claim.ID, now)
	if err != nil {
		r.release(ctx, log, claim.ID, err)
		return false, fmt.Errorf("building %s notification: %w", f.Label, err)
	}

	stepCtx, cancel = withStep(ctx, r.stepTimeout)
	err = r.sink.Dispatch(stepCtx, n)
	cancel()
	if err != nil {
		err = events.Classify(err)
		r.metrics.RecordDispatchFailure(kind)
		log.Warn("reminder dispatch failed, will retry",
			"attempt", claim.Attempts,
			"error", err)
		r.release(ctx, log, claim.ID, err)
		return false, err
	}

	stepCtx, cancel = withStep(ctx, r.stepTimeout)
	err = r.reminders.MarkFired(stepCtx, claim.ID, r.clock.Now())
	cancel()
	if store.IsNotFoundError(err) {
		// the task left the open states while the fire was in flight and its
		// unfired reminders were discarded
		log.Debug("reminder cancelled during dispatch", "fire_id", claim.ID)
		return false, nil
	}
	if err != nil {
		// the lease expires and the fire is dispatched again: the sink sees
		// it at least once, never zero times
		return false, fmt.Errorf("recording %s reminder: %w", f.Label, err)
	}

	r.metrics.RecordFired(f.Label)
	log.Info("reminder fired", "kind", kind, "scheduled_at", f.At)
	return true, nil
}

func (r *ReminderScheduler) release(ctx context.Context, log *slog.Logger, fireID uuid.UUID, cause error) {
	stepCtx, cancel := withStep(ctx, r.stepTimeout)
	defer cancel()
	if err := r.reminders.Release(stepCtx, fireID, cause.Error()); err != nil {
		log.Error("failed to release reminder claim, it stays leased until expiry",
			"fire_id", fireID,
			"error", err)
	}
}

// reminderAudience returns the notification kind and recipients of a fire.
func reminderAudience(inst *domain.TaskInstance, label domain.FireLabel) (domain.NotificationKind, []uuid.UUID) {
	if label == domain.EscalationOverdue {
		return domain.NotifyOverdue, domain.Recipients(inst.Assignees, inst.Observers, []uuid.UUID{inst.CreatorID})
	}
	return domain.NotifyReminder, domain.Recipients(inst.Assignees)
}
