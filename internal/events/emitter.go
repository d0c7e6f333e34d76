package events

import (
	"context"
	"log/slog"
	"sync"
)

// FanOut dispatches every notification to all registered sinks. It accepts a
// notification only when every sink accepted it.
type FanOut struct {
	sinks  []Sink
	mu     sync.RWMutex
	logger *slog.Logger
}

var _ Sink = (*FanOut)(nil)

// NewFanOut creates a FanOut over the given sinks.
func NewFanOut(logger *slog.Logger, sinks ...Sink) *FanOut {
	return &FanOut{
		sinks:  append([]Sink(nil), sinks...),
		logger: logger.With("component", "notification_fanout"),
	}
}

// Register adds a sink.
func (f *FanOut) Register(sink Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink)
	f.logger.Debug("registered notification sink", "sink_count", len(f.sinks))
}

// Dispatch sends n to every sink and returns the first failure, classified
// as ErrDispatchRejected or ErrDispatchTimeout.
func (f *FanOut) Dispatch(ctx context.Context, n *Notification) error {
	f.mu.RLock()
	sinks := make([]Sink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	if len(sinks) == 0 {
		f.logger.Warn("no sinks registered for notification",
			"notification_id", n.ID,
			"kind", n.Kind)
		return nil
	}

	var firstErr error
	for i, sink := range sinks {
		if err := sink.Dispatch(ctx, n); err != nil {
			f.logger.Error("sink failed to dispatch notification",
				"error", err,
				"sink_index", i,
				"notification_id", n.ID,
				"kind", n.Kind)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return Classify(firstErr)
}

// LogSink accepts every notification and writes it to the log. It stands in
// for a real sink when none is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "log_sink")}
}

// Dispatch implements Sink.
func (s *LogSink) Dispatch(ctx context.Context, n *Notification) error {
	s.logger.InfoContext(ctx, "notification",
		"notification_id", n.ID,
		"kind", n.Kind,
		"tenant_id", n.TenantID,
		"instance_id", n.InstanceID,
		"recipient_count", len(n.Recipients))
	return nil
}
