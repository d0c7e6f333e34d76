package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/taskengine/internal/api/shared"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/platform/logger"
)

func withPathParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetActorFromContext(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := getActorFromContext(req)
	assert.False(t, ok)

	req = req.WithContext(shared.WithIdentity(req.Context(), userID, tenantID))
	actor, ok := getActorFromContext(req)
	require.True(t, ok)
	assert.Equal(t, userID, actor.UserID)
	assert.Equal(t, tenantID, actor.TenantID)
}

func TestGetPathUUID(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name    string
		value   string
		want    uuid.UUID
		wantErr error
	}{
		{"valid", id.String(), id, nil},
		{"missing", "", uuid.Nil, domain.ErrValidation},
		{"malformed", "not-a-uuid", uuid.Nil, domain.ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withPathParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", tt.value)

			got, err := getPathUUID(req, "id")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				var fieldErr *domain.ValidationError
				require.ErrorAs(t, err, &fieldErr)
				assert.Equal(t, "id", fieldErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleActorAndPathUUID(t *testing.T) {
	log, buf := logger.GetTestLogger(t)
	id := uuid.New()
	identity := func(r *http.Request) *http.Request {
		return r.WithContext(shared.WithIdentity(r.Context(), uuid.New(), uuid.New()))
	}

	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withPathParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", id.String())

		_, _, ok := handleActorAndPathUUID(rec, req, "id", log)
		assert.False(t, ok)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		logger.AssertLogContains(t, buf, "identity not found")
	})

	t.Run("bad path parameter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := identity(withPathParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", "nope"))

		_, _, ok := handleActorAndPathUUID(rec, req, "id", log)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid id: has invalid format")
	})

	t.Run("valid", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := identity(withPathParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", id.String()))

		actor, got, ok := handleActorAndPathUUID(rec, req, "id", nil)
		assert.True(t, ok)
		assert.Equal(t, id, got)
		assert.NotEqual(t, uuid.Nil, actor.TenantID)
	})
}
