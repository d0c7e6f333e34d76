// Package webhook dispatches notifications to an HTTP endpoint.
//
// Each notification is POSTed as JSON. Any 2xx answer means the endpoint
// accepted it; delivery to devices and channels is the endpoint's concern.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/crewdesk/taskengine/internal/events"
	"github.com/crewdesk/taskengine/internal/platform/logger"
	"github.com/crewdesk/taskengine/internal/redact"
)

// Config configures a Sink.
type Config struct {
	URL        string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// Sink posts notifications to a webhook, throttled by a token bucket so a
// catch-up tick cannot flood the endpoint.
type Sink struct {
	url     string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ events.Sink = (*Sink)(nil)

// New creates a webhook Sink. client may be nil.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Sink {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Sink{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		logger:  logger.With("component", "webhook_sink"),
	}
}

// Dispatch implements events.Sink.
// Returns events.ErrDispatchTimeout when the rate limiter or the endpoint does
// not answer before the deadline, and events.ErrDispatchRejected for non-2xx
// answers and transport failures.
func (s *Sink) Dispatch(ctx context.Context, n *events.Notification) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: waiting for rate limiter: %w", events.ErrDispatchTimeout, err)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: encoding notification: %w", events.ErrDispatchRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", events.ErrDispatchRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-ID", n.ID.String())
	req.Header.Set("X-Notification-Kind", string(n.Kind))

	resp, err := s.client.Do(req)
	if err != nil {
		// transport errors carry the URL, which may hold a secret
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", events.ErrDispatchTimeout, redact.Error(err))
		}
		return fmt.Errorf("%w: %s", events.ErrDispatchRejected, redact.Error(err))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("webhook rejected notification",
			"notification_id", n.ID,
			"kind", n.Kind,
			"status", resp.StatusCode)
		return fmt.Errorf("%w: webhook answered %d", events.ErrDispatchRejected, resp.StatusCode)
	}

	log.Debug("webhook accepted notification",
		"notification_id", n.ID,
		"kind", n.Kind,
		"status", resp.StatusCode)
	return nil
}
