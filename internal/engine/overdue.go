package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/domain/lifecycle"
	"github.com/crewdesk/taskengine/internal/store"
)

// OverdueEvaluator moves instances past their due instant to overdue.
type OverdueEvaluator struct {
	instances store.InstanceStore
	clock     clock.Clock
	metrics   *Metrics
	logger    *slog.Logger
}

// NewOverdueEvaluator creates an OverdueEvaluator. metrics may be nil.
func NewOverdueEvaluator(instances store.InstanceStore, clk clock.Clock, metrics *Metrics, log *slog.Logger) *OverdueEvaluator {
	if log == nil {
		log = slog.Default()
	}
	return &OverdueEvaluator{
		instances: instances,
		clock:     clk,
		metrics:   metrics,
		logger:    log.With("component", "overdue_evaluator"),
	}
}

// Evaluate applies mark_overdue to inst and persists the result. On a
// transition inst.Status is updated in place and the result carries the
// escalation intent. Re-evaluating an overdue instance is a no-op.
//
// A concurrent user action that changed the status first wins; the instance
// is then re-evaluated on the next tick from its new status.
func (e *OverdueEvaluator) Evaluate(ctx context.Context, inst *domain.TaskInstance) (lifecycle.Result, error) {
	now := e.clock.Now()
	res, err := lifecycle.Apply(inst, lifecycle.ActionMarkOverdue, now)
	if err != nil || !res.Changed() {
		return res, err
	}

	err = e.instances.UpdateStatus(ctx, inst.ID, store.StatusChange{
		From:        res.From,
		To:          res.To,
		CompletedAt: res.CompletedAt,
		At:          now,
	})
	if errors.Is(err, store.ErrConflict) {
		e.logger.Debug("status changed concurrently, skipping overdue transition",
			"instance_id", inst.ID)
		return lifecycle.Result{From: res.From, To: res.From}, nil
	}
	if err != nil {
		return lifecycle.Result{From: res.From, To: res.From}, fmt.Errorf("marking overdue: %w", err)
	}

	inst.Status = res.To
	inst.UpdatedAt = now
	e.metrics.RecordTransition(res.From, res.To)
	e.logger.Info("instance overdue",
		"instance_id", inst.ID,
		"due_at", inst.DueAt,
		"previous_status", res.From)
	return res, nil
}
