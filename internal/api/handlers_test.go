package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/taskengine/internal/api/shared"
	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/events"
	"github.com/crewdesk/taskengine/internal/platform/logger"
	"github.com/crewdesk/taskengine/internal/platform/memory"
	"github.com/crewdesk/taskengine/internal/service"
)

type apiFixture struct {
	router   http.Handler
	clock    *clock.Fake
	userID   uuid.UUID
	tenantID uuid.UUID

	mu   sync.Mutex
	sent []*events.Notification
}

// newAPIFixture wires the handlers to real services over the in-memory store.
// Requests are authenticated as the fixture user unless X-Tenant-ID overrides
// the tenant.
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log, _ := logger.GetTestLogger(t)
	f := &apiFixture{
		clock:    clock.NewFake(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
		userID:   uuid.New(),
		tenantID: uuid.New(),
	}
	sink := events.SinkFunc(func(_ context.Context, n *events.Notification) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sent = append(f.sent, n)
		return nil
	})

	db := memory.NewDB()
	templates, err := service.NewTemplateService(memory.NewTemplateStore(db), f.clock, log)
	require.NoError(t, err)
	instances, err := service.NewInstanceService(memory.NewInstanceStore(db), sink, f.clock, nil, log)
	require.NoError(t, err)

	th := NewTemplateHandler(templates, log)
	ih := NewInstanceHandler(instances, f.clock, log)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Anonymous") != "" {
				next.ServeHTTP(w, r)
				return
			}
			tenant := f.tenantID
			if raw := r.Header.Get("X-Tenant-ID"); raw != "" {
				tenant = uuid.MustParse(raw)
			}
			next.ServeHTTP(w, r.WithContext(shared.WithIdentity(r.Context(), f.userID, tenant)))
		})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/templates", th.CreateTemplate)
		r.Get("/templates", th.ListTemplates)
		r.Get("/templates/{id}", th.GetTemplate)
		r.Put("/templates/{id}", th.UpdateTemplate)
		r.Post("/templates/{id}/retire", th.RetireTemplate)
		r.Post("/instances", ih.CreateInstance)
		r.Get("/instances", ih.ListInstances)
		r.Get("/instances/{id}", ih.GetInstance)
		r.Post("/instances/{id}/{action}", ih.Act)
	})
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) kinds() []domain.NotificationKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.NotificationKind, len(f.sent))
	for i, n := range f.sent {
		out[i] = n.Kind
	}
	return out
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) weeklyTemplate() map[string]interface{} {
	return map[string]interface{}{
		"title":            "Fire extinguisher check",
		"assignees":        []string{f.userID.String()},
		"recurrence":       "weekly",
		"due_time":         "09:30",
		"weekday":          5,
		"timezone":         "Europe/Berlin",
		"priority":         "high",
		"base_reminder":    "1d",
		"repeat_reminders": []string{"1h"},
	}
}

func TestTemplateHandler_Lifecycle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/templates", f.weeklyTemplate())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[TemplateResponse](t, rec)
	assert.Equal(t, "weekly", created.Recurrence)
	assert.Equal(t, "09:30", created.DueTime)
	assert.Equal(t, "Europe/Berlin", created.Timezone)
	assert.Equal(t, []string{"1h"}, created.RepeatReminders)
	assert.True(t, created.Active)
	assert.Equal(t, f.userID, created.CreatorID)

	rec = f.do(t, http.MethodGet, "/api/templates/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[TemplateResponse](t, rec).ID)

	update := f.weeklyTemplate()
	update["title"] = "Fire extinguisher and exit check"
	update["weekday"] = 1
	rec = f.do(t, http.MethodPut, "/api/templates/"+created.ID.String(), update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[TemplateResponse](t, rec)
	assert.Equal(t, "Fire extinguisher and exit check", updated.Title)
	assert.Equal(t, 1, updated.Weekday)

	rec = f.do(t, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TemplateResponse](t, rec), 1)

	rec = f.do(t, http.MethodPost, "/api/templates/"+created.ID.String()+"/retire", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	retired := decode[TemplateResponse](t, rec)
	assert.False(t, retired.Active)
	assert.NotNil(t, retired.RetiredAt)

	rec = f.do(t, http.MethodPut, "/api/templates/"+created.ID.String(), update)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Template is retired")
}

func TestTemplateHandler_Validation(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	tests := []struct {
		name    string
		mutate  func(map[string]interface{})
		message string
	}{
		{"missing title", func(b map[string]interface{}) { delete(b, "title") }, "Invalid Title: required field"},
		{"unknown recurrence", func(b map[string]interface{}) { b["recurrence"] = "hourly" }, "Invalid recurrence"},
		{"bad due time", func(b map[string]interface{}) { b["due_time"] = "9.30" }, "Invalid due_time"},
		{"weekday out of range", func(b map[string]interface{}) { b["weekday"] = 0 }, "Invalid weekday"},
		{"unknown zone", func(b map[string]interface{}) { b["timezone"] = "Mars/Olympus" }, "Invalid timezone"},
		{"unknown offset", func(b map[string]interface{}) { b["repeat_reminders"] = []string{"2h"} }, "Invalid repeat_reminders"},
		{"unknown field", func(b map[string]interface{}) { b["colour"] = "red" }, "Invalid request format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := f.weeklyTemplate()
			tt.mutate(body)

			rec := f.do(t, http.MethodPost, "/api/templates", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.message)
		})
	}
}

func TestTemplateHandler_TenantScoping(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/templates", f.weeklyTemplate())
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[TemplateResponse](t, rec)

	other := uuid.New().String()
	rec = f.do(t, http.MethodGet, "/api/templates/"+created.ID.String(), nil, "X-Tenant-ID", other)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/templates", nil, "X-Tenant-ID", other)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]TemplateResponse](t, rec))

	rec = f.do(t, http.MethodGet, "/api/templates", nil, "X-Anonymous", "1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInstanceHandler_ApprovalFlow(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)
	assignee := uuid.New()

	rec := f.do(t, http.MethodPost, "/api/instances", map[string]interface{}{
		"title":            "Submit the audit report",
		"assignees":        []string{assignee.String()},
		"due_at":           f.clock.Now().Add(48 * time.Hour),
		"reminder_offsets": []string{"1h", "1d"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inst := decode[InstanceResponse](t, rec)
	assert.Equal(t, "pending", inst.Status)
	assert.Equal(t, "medium", inst.Priority)
	assert.Equal(t, []string{"1d", "1h"}, inst.ReminderOffsets)
	assert.Nil(t, inst.TemplateID)
	assert.Equal(t, "1d", inst.NextReminder)
	require.NotNil(t, inst.NextReminderAt)
	assert.True(t, inst.NextReminderAt.Equal(f.clock.Now().Add(24*time.Hour)))

	path := "/api/instances/" + inst.ID.String()
	for _, step := range []struct {
		action string
		status string
	}{
		{"start", "in_progress"},
		{"submit", "for_approval"},
		{"reject", "in_progress"},
		{"submit", "for_approval"},
		{"approve", "completed"},
	} {
		rec = f.do(t, http.MethodPost, path+"/"+step.action, nil)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", step.action, rec.Body.String())
		assert.Equal(t, step.status, decode[InstanceResponse](t, rec).Status, step.action)
	}

	rec = f.do(t, http.MethodPost, path+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cannot start a task that is completed")

	rec = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[InstanceResponse](t, rec)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.NextReminder)
	assert.Nil(t, done.NextReminderAt)
	assert.NotContains(t, rec.Body.String(), "next_reminder")

	assert.Equal(t, []domain.NotificationKind{
		domain.NotifyAssigned,
		domain.NotifyApprovalRequested,
		domain.NotifyRejected,
		domain.NotifyApprovalRequested,
		domain.NotifyApproved,
	}, f.kinds())
}

func TestInstanceHandler_Errors(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/instances", map[string]interface{}{
		"title":     "Water the plants",
		"assignees": []string{f.userID.String()},
		"due_at":    f.clock.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	inst := decode[InstanceResponse](t, rec)

	t.Run("unknown action", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/instances/"+inst.ID.String()+"/mark_overdue", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/instances/"+uuid.New().String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "Task not found")
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/instances/42", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown priority", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/instances", map[string]interface{}{
			"title":     "Water the plants",
			"assignees": []string{f.userID.String()},
			"due_at":    f.clock.Now().Add(time.Hour),
			"priority":  "urgent",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid priority")
	})

	t.Run("missing due date", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/instances", map[string]interface{}{
			"title":     "Water the plants",
			"assignees": []string{f.userID.String()},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("other tenant", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/instances/"+inst.ID.String()+"/start", nil,
			"X-Tenant-ID", uuid.New().String())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestInstanceHandler_ListFilters(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/api/instances", map[string]interface{}{
			"title":     "Restock shelf",
			"assignees": []string{f.userID.String()},
			"due_at":    f.clock.Now().Add(time.Duration(i+1) * time.Hour),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decode[InstanceResponse](t, rec).ID)
	}
	rec := f.do(t, http.MethodPost, "/api/instances/"+ids[1].String()+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]InstanceResponse](t, rec), 3)

	rec = f.do(t, http.MethodGet, "/api/instances?status=in_progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode[[]InstanceResponse](t, rec)
	require.Len(t, started, 1)
	assert.Equal(t, ids[1], started[0].ID)

	rec = f.do(t, http.MethodGet, "/api/instances?status=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/instances?template_id="+uuid.New().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]InstanceResponse](t, rec))
}
