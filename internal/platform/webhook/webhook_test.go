package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/events"
)

func notification(t *testing.T) *events.Notification {
	t.Helper()
	n, err := events.NewNotification(domain.NotifyReminder, uuid.New(), uuid.New(),
		[]uuid.UUID{uuid.New()}, events.TaskPayload{Title: "Call the supplier"}, time.Now())
	require.NoError(t, err)
	return n
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSink_Accepted(t *testing.T) {
	t.Parallel()

	var got events.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "task.reminder", r.Header.Get("X-Notification-Kind"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := notification(t)
	sink := New(Config{URL: srv.URL, Timeout: time.Second, RatePerSec: 100, Burst: 10}, srv.Client(), discard())

	require.NoError(t, sink.Dispatch(context.Background(), n))
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.Recipients, got.Recipients)
}

func TestSink_NonSuccessIsRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := New(Config{URL: srv.URL, Timeout: time.Second, RatePerSec: 100, Burst: 10}, srv.Client(), discard())

	err := sink.Dispatch(context.Background(), notification(t))
	assert.ErrorIs(t, err, events.ErrDispatchRejected)
	assert.Contains(t, err.Error(), "503")
}

func TestSink_SlowEndpointTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sink := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond, RatePerSec: 100, Burst: 10}, srv.Client(), discard())

	err := sink.Dispatch(context.Background(), notification(t))
	assert.ErrorIs(t, err, events.ErrDispatchTimeout)
}

func TestSink_RateLimited(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// one token, refilled every 10s: the second call cannot get one before its deadline
	sink := New(Config{URL: srv.URL, Timeout: 100 * time.Millisecond, RatePerSec: 0.1, Burst: 1}, srv.Client(), discard())

	require.NoError(t, sink.Dispatch(context.Background(), notification(t)))
	err := sink.Dispatch(context.Background(), notification(t))
	assert.ErrorIs(t, err, events.ErrDispatchTimeout)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSink_TransportErrorHidesURLSecret(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL + "/hook?token=topsecret"
	srv.Close()

	sink := New(Config{URL: url, Timeout: time.Second, RatePerSec: 100, Burst: 10}, nil, discard())

	err := sink.Dispatch(context.Background(), notification(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, events.ErrDispatchRejected)
	assert.NotContains(t, err.Error(), "topsecret")
}
