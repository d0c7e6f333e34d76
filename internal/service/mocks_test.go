package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/events"
)

// MockSink mocks the events.Sink interface
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Dispatch(ctx context.Context, n *events.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// kind matches a notification of the given kind.
func kind(k domain.NotificationKind) interface{} {
	return mock.MatchedBy(func(n *events.Notification) bool {
		return n.Kind == k
	})
}

// recorder counts transitions.
type recorder struct {
	transitions []string
}

func (r *recorder) RecordTransition(from, to domain.TaskStatus) {
	r.transitions = append(r.transitions, string(from)+"->"+string(to))
}
