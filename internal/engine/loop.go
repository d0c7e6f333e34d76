package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/domain/lifecycle"
	"github.com/crewdesk/taskengine/internal/domain/schedule"
	"github.com/crewdesk/taskengine/internal/events"
	"github.com/crewdesk/taskengine/internal/store"
)

// Stores groups the persistence dependencies of a Loop.
type Stores struct {
	Templates store.TemplateStore
	Instances store.InstanceStore
	Reminders store.ReminderStore
}

// TickReport summarizes one tick.
type TickReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Templates          int `json:"templates"`
	Instances          int `json:"instances"`
	Materialized       int `json:"materialized"`
	Duplicates         int `json:"duplicates"`
	RemindersFired     int `json:"reminders_fired"`
	DispatchFailures   int `json:"dispatch_failures"`
	OverdueTransitions int `json:"overdue_transitions"`

	// TemplateFailures and InstanceFailures count items whose step failed.
	// Skipped counts items not started before the tick timeout.
	TemplateFailures int `json:"template_failures"`
	InstanceFailures int `json:"instance_failures"`
	Skipped          int `json:"skipped"`

	// Err is set when a whole phase could not run, e.g. because listing
	// templates failed. Per-item failures never set it.
	Err error `json:"-"`
}

// tally accumulates per-item counts from concurrent workers.
type tally struct {
	mu sync.Mutex
	r  *TickReport
}

func (t *tally) add(fn func(r *TickReport)) {
	t.mu.Lock()
	fn(t.r)
	t.mu.Unlock()
}

// Loop is the scheduler loop. Each tick loads active templates and
// materializes their due periods, then loads every open instance, fires its
// due reminders and evaluates it for overdue.
type Loop struct {
	stores       Stores
	materializer *Materializer
	reminders    *ReminderScheduler
	overdue      *OverdueEvaluator
	pool         *WorkerPool
	clock        clock.Clock
	cfg          Config
	metrics      *Metrics
	logger       *slog.Logger
}

// NewLoop wires a Loop. metrics may be nil.
func NewLoop(
	stores Stores,
	sink events.Sink,
	clk clock.Clock,
	cfg Config,
	metrics *Metrics,
	log *slog.Logger,
) *Loop {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Loop{
		stores:       stores,
		materializer: NewMaterializer(stores.Templates, stores.Instances, sink, clk, metrics, log),
		reminders:    NewReminderScheduler(stores.Reminders, sink, clk, cfg, metrics, log),
		overdue:      NewOverdueEvaluator(stores.Instances, clk, metrics, log),
		pool:         NewWorkerPool(WorkerPoolConfig{WorkerCount: cfg.Workers}, log),
		clock:        clk,
		cfg:          cfg,
		metrics:      metrics,
		logger:       log.With("component", "scheduler_loop"),
	}
}

// Tick runs one pass of the loop under the tick timeout. A failing template
// or instance is logged and counted; it never stops the others.
func (l *Loop) Tick(ctx context.Context) TickReport {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.TickTimeout)
	defer cancel()

	started := time.Now()
	report := TickReport{StartedAt: l.clock.Now()}
	t := &tally{r: &report}

	var phaseErrs []error
	if err := l.materializeAll(ctx, t); err != nil {
		phaseErrs = append(phaseErrs, err)
	}
	if err := l.processOpen(ctx, t); err != nil {
		phaseErrs = append(phaseErrs, err)
	}
	report.Err = errors.Join(phaseErrs...)
	report.Duration = time.Since(started)

	l.metrics.RecordTick(report.Duration, l.clock.Now())
	l.metrics.RecordItemFailure("template", report.TemplateFailures)
	l.metrics.RecordItemFailure("instance", report.InstanceFailures)

	attrs := []any{
		"templates", report.Templates,
		"instances", report.Instances,
		"materialized", report.Materialized,
		"reminders_fired", report.RemindersFired,
		"dispatch_failures", report.DispatchFailures,
		"overdue", report.OverdueTransitions,
		"template_failures", report.TemplateFailures,
		"instance_failures", report.InstanceFailures,
		"skipped", report.Skipped,
		"duration_ms", report.Duration.Milliseconds(),
	}
	if report.Err != nil {
		l.logger.Error("tick finished with errors", append(attrs, "error", report.Err)...)
	} else {
		l.logger.Info("tick finished", attrs...)
	}
	return report
}

// materializeAll covers steps one and two: load active templates, then
// resolve and materialize their due periods.
func (l *Loop) materializeAll(ctx context.Context, t *tally) error {
	stepCtx, cancel := withStep(ctx, l.cfg.StepTimeout)
	templates, err := l.stores.Templates.ListActive(stepCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("listing active templates: %w", err)
	}
	t.add(func(r *TickReport) { r.Templates = len(templates) })

	failed, skipped := l.pool.Run(ctx, len(templates), func(ctx context.Context, i int) error {
		tmpl := templates[i]
		err := l.materializeTemplate(ctx, tmpl, t)
		if err != nil {
			l.logger.Error("template step failed",
				"template_id", tmpl.ID,
				"tenant_id", tmpl.TenantID,
				"retryable", store.IsRetryable(err),
				"error", err)
		}
		return err
	})
	t.add(func(r *TickReport) {
		r.TemplateFailures += failed
		r.Skipped += skipped
	})
	return nil
}

// materializeTemplate materializes due periods in order and stops at the
// first failure, so the cursor never moves past an unmaterialized period.
func (l *Loop) materializeTemplate(ctx context.Context, tmpl *domain.RecurringTemplate, t *tally) error {
	periods, err := schedule.NextDue(tmpl, tmpl.LastPeriodEnd, l.clock.Now(), l.cfg.MaxCatchUp)
	if err != nil {
		return fmt.Errorf("resolving schedule: %w", err)
	}

	for _, p := range periods {
		stepCtx, cancel := withStep(ctx, l.cfg.StepTimeout)
		_, created, err := l.materializer.Materialize(stepCtx, tmpl, p)
		cancel()
		rescheduled := errors.Is(err, store.ErrTemplateRescheduled)
		if err != nil && !rescheduled {
			return err
		}
		t.add(func(r *TickReport) {
			if created {
				r.Materialized++
			} else {
				r.Duplicates++
			}
		})
		if rescheduled {
			// the next tick resolves the new rule from the fresh anchor
			l.logger.Info("template rescheduled during tick, stopping",
				"template_id", tmpl.ID,
				"period", p.Key)
			return nil
		}
	}
	return nil
}

// processOpen covers steps three to five: load open instances, fire their
// due reminders and evaluate them for overdue.
func (l *Loop) processOpen(ctx context.Context, t *tally) error {
	stepCtx, cancel := withStep(ctx, l.cfg.StepTimeout)
	instances, err := l.stores.Instances.ListOpen(stepCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("listing open instances: %w", err)
	}
	t.add(func(r *TickReport) { r.Instances = len(instances) })

	failed, skipped := l.pool.Run(ctx, len(instances), func(ctx context.Context, i int) error {
		inst := instances[i]
		err := l.processInstance(ctx, inst, t)
		if err != nil {
			l.logger.Error("instance step failed",
				"instance_id", inst.ID,
				"tenant_id", inst.TenantID,
				"retryable", store.IsRetryable(err),
				"error", err)
		}
		return err
	})
	t.add(func(r *TickReport) {
		r.InstanceFailures += failed
		r.Skipped += skipped
	})
	return nil
}

func (l *Loop) processInstance(ctx context.Context, inst *domain.TaskInstance, t *tally) error {
	var errs []error

	out, err := l.reminders.Process(ctx, inst)
	t.add(func(r *TickReport) {
		r.RemindersFired += out.Fired
		r.DispatchFailures += out.Failed
	})
	if err != nil {
		errs = append(errs, err)
	}

	stepCtx, cancel := withStep(ctx, l.cfg.StepTimeout)
	res, err := l.overdue.Evaluate(stepCtx, inst)
	cancel()
	if err != nil {
		errs = append(errs, err)
	}
	if res.Changed() {
		t.add(func(r *TickReport) { r.OverdueTransitions++ })
		if escalates(res) {
			out, err := l.reminders.Process(ctx, inst)
			t.add(func(r *TickReport) {
				r.RemindersFired += out.Fired
				r.DispatchFailures += out.Failed
			})
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func escalates(res lifecycle.Result) bool {
	for _, in := range res.Intents {
		if in.Kind == lifecycle.IntentEscalate {
			return true
		}
	}
	return false
}

// Run ticks once immediately and then every tick interval until ctx is done.
// A tick still running when the next one is due makes the next one skip.
func (l *Loop) Run(ctx context.Context) error {
	cl := cronLogger{logger: l.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(l.cfg.TickInterval), cron.FuncJob(func() {
		l.Tick(ctx)
	}))

	l.logger.Info("scheduler loop starting",
		"tick_interval", l.cfg.TickInterval.String(),
		"workers", l.cfg.Workers)
	l.Tick(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	l.logger.Info("scheduler loop stopped")
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
