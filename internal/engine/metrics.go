package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crewdesk/taskengine/internal/domain"
)

const metricsNamespace = "taskengine"

// Metrics exports engine counters to Prometheus. All methods are safe on a
// nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ticks            prometheus.Counter
	tickDuration     prometheus.Histogram
	lastTick         prometheus.Gauge
	materialized     prometheus.Counter
	duplicates       prometheus.Counter
	remindersFired   *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	itemFailures     *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks run",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of scheduler ticks in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		lastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time at which the last tick finished",
		}),
		materialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "instances_materialized_total",
			Help:      "Total number of task instances created from templates",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "materializations_duplicate_total",
			Help:      "Total number of materializations that found the period already materialized",
		}),
		remindersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reminders_fired_total",
			Help:      "Total number of reminders and escalations accepted by the sink",
		}, []string{"label"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_failures_total",
			Help:      "Total number of notification dispatches the sink rejected or did not answer",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "status_transitions_total",
			Help:      "Total number of instance status transitions",
		}, []string{"from", "to"}),
		itemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "item_failures_total",
			Help:      "Total number of template or instance steps that failed within a tick",
		}, []string{"step"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticks,
		m.tickDuration,
		m.lastTick,
		m.materialized,
		m.duplicates,
		m.remindersFired,
		m.dispatchFailures,
		m.transitions,
		m.itemFailures,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTick records a finished tick.
func (m *Metrics) RecordTick(d time.Duration, finishedAt time.Time) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
	m.lastTick.Set(float64(finishedAt.Unix()))
}

// RecordMaterialization records one materialize call.
func (m *Metrics) RecordMaterialization(created bool) {
	if m == nil {
		return
	}
	if created {
		m.materialized.Inc()
		return
	}
	m.duplicates.Inc()
}

// RecordFired records a fire accepted by the sink.
func (m *Metrics) RecordFired(label domain.FireLabel) {
	if m == nil {
		return
	}
	// offset labels form a closed set, so the label cardinality is bounded
	m.remindersFired.WithLabelValues(string(label)).Inc()
}

// RecordDispatchFailure records a failed dispatch of the given notification kind.
func (m *Metrics) RecordDispatchFailure(kind domain.NotificationKind) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(string(kind)).Inc()
}

// RecordTransition records a persisted status change.
func (m *Metrics) RecordTransition(from, to domain.TaskStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordItemFailure records a failed per-item step. step is "template" or "instance".
func (m *Metrics) RecordItemFailure(step string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemFailures.WithLabelValues(step).Add(float64(n))
}
