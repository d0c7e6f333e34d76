package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/events"
	"github.com/crewdesk/taskengine/internal/platform/logger"
	"github.com/crewdesk/taskengine/internal/platform/memory"
	"github.com/crewdesk/taskengine/internal/store"
)

// recordingSink keeps every accepted notification. fail, when set, decides
// per notification whether the dispatch is refused.
type recordingSink struct {
	mu   sync.Mutex
	sent []*events.Notification
	fail func(ctx context.Context, n *events.Notification) error
}

func (s *recordingSink) Dispatch(ctx context.Context, n *events.Notification) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		if err := fail(ctx, n); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) setFail(fn func(ctx context.Context, n *events.Notification) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

func (s *recordingSink) ofKind(kind domain.NotificationKind) []*events.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*events.Notification
	for _, n := range s.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// labels returns the fire labels dispatched for an instance, in order.
func (s *recordingSink) labels(t *testing.T, instanceID uuid.UUID) []domain.FireLabel {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FireLabel
	for _, n := range s.sent {
		if n.InstanceID != instanceID {
			continue
		}
		var p events.TaskPayload
		require.NoError(t, n.UnmarshalPayload(&p))
		if p.Label != "" {
			out = append(out, p.Label)
		}
	}
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type harness struct {
	db       *memory.DB
	stores   Stores
	clock    *clock.Fake
	sink     *recordingSink
	log      *slog.Logger
	logs     *logger.TestLogBuffer
	tenant   uuid.UUID
	creator  uuid.UUID
	assignee uuid.UUID
	observer uuid.UUID
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	db := memory.NewDB()
	log, buf := logger.GetTestLogger(t)
	return &harness{
		db: db,
		stores: Stores{
			Templates: memory.NewTemplateStore(db),
			Instances: memory.NewInstanceStore(db),
			Reminders: memory.NewReminderStore(db),
		},
		clock:    clock.NewFake(start),
		sink:     &recordingSink{},
		log:      log,
		logs:     buf,
		tenant:   uuid.New(),
		creator:  uuid.New(),
		assignee: uuid.New(),
		observer: uuid.New(),
	}
}

func (h *harness) loop(cfg Config) *Loop {
	return NewLoop(h.stores, h.sink, h.clock, cfg, nil, h.log)
}

func (h *harness) fields(rec domain.Recurrence) domain.TemplateFields {
	return domain.TemplateFields{
		Title:      "Check fridge temperatures",
		Assignees:  []uuid.UUID{h.assignee},
		Observers:  []uuid.UUID{h.observer},
		Recurrence: rec,
		DueTime:    domain.TimeOfDay{Hour: 9},
		Timezone:   "UTC",
		Priority:   domain.PriorityHigh,
	}
}

func (h *harness) addTemplate(t *testing.T, fields domain.TemplateFields) *domain.RecurringTemplate {
	t.Helper()
	tmpl, err := domain.NewRecurringTemplate(h.tenant, h.creator, fields, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.stores.Templates.Create(context.Background(), tmpl))
	return tmpl
}

func (h *harness) addOneOff(t *testing.T, dueAt time.Time, offsets ...domain.ReminderOffset) *domain.TaskInstance {
	t.Helper()
	inst, err := domain.NewOneOffInstance(h.tenant, h.creator, domain.OneOffFields{
		Title:           "Renew liquor license",
		Assignees:       []uuid.UUID{h.assignee},
		Observers:       []uuid.UUID{h.observer},
		DueAt:           dueAt,
		ReminderOffsets: offsets,
	}, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.stores.Instances.Create(context.Background(), inst))
	return inst
}

func (h *harness) instance(t *testing.T, id uuid.UUID) *domain.TaskInstance {
	t.Helper()
	inst, err := h.stores.Instances.GetByID(context.Background(), id)
	require.NoError(t, err)
	return inst
}

func (h *harness) templateInstances(t *testing.T, templateID uuid.UUID) []*domain.TaskInstance {
	t.Helper()
	list, err := h.stores.Instances.ListByTenant(context.Background(), h.tenant, store.InstanceFilter{TemplateID: &templateID})
	require.NoError(t, err)
	return list
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func periodKeys(list []*domain.TaskInstance) []string {
	out := make([]string, len(list))
	for i, inst := range list {
		out[i] = inst.PeriodKey
	}
	return out
}
