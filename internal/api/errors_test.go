package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/domain/lifecycle"
	"github.com/crewdesk/taskengine/internal/service"
	"github.com/crewdesk/taskengine/internal/service/auth"
	"github.com/crewdesk/taskengine/internal/store"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{
			name:           "nil error",
			err:            nil,
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "authentication error",
			err:            auth.ErrInvalidToken,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrapped authentication error",
			err:            fmt.Errorf("failed to authenticate: %w", auth.ErrExpiredToken),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing identity",
			err:            errUnauthenticated,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "template not found",
			err:            service.ErrTemplateNotFound,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "store not found",
			err:            fmt.Errorf("loading: %w", store.ErrInstanceNotFound),
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "status conflict",
			err:            service.ErrStatusConflict,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "disallowed transition",
			err:            &lifecycle.TransitionError{From: domain.StatusCompleted, Action: lifecycle.ActionStart},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "retired template",
			err:            &service.ServiceError{Operation: "update_template", Message: "x", Err: domain.ErrTemplateRetired},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "field validation",
			err:            domain.NewValidationError("title", "cannot be empty", domain.ErrValidation),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown recurrence",
			err:            domain.ErrInvalidRecurrence,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "struct validation",
			err:            validator.New().Struct(struct{ A string `validate:"required"` }{}),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "store unavailable",
			err:            fmt.Errorf("listing: %w", store.ErrUnavailable),
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "unknown error",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, MapErrorToStatusCode(tt.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, "An unexpected error occurred"},
		{"expired token", auth.ErrExpiredToken, "Token expired"},
		{"invalid token", fmt.Errorf("parse: %w", auth.ErrInvalidToken), "Invalid token"},
		{"template not found", service.ErrTemplateNotFound, "Template not found"},
		{"task not found", store.ErrInstanceNotFound, "Task not found"},
		{"conflict", service.ErrStatusConflict, "Task was changed by another request, reload and retry"},
		{
			"transition",
			&lifecycle.TransitionError{From: domain.StatusCompleted, Action: lifecycle.ActionSubmit},
			"Cannot submit a task that is completed",
		},
		{
			"field validation",
			fmt.Errorf("create: %w", domain.NewValidationError("weekday", "must be between 1 (Monday) and 7 (Sunday)", domain.ErrValidation)),
			"Invalid weekday: must be between 1 (Monday) and 7 (Sunday)",
		},
		{"retired", domain.ErrTemplateRetired, "Template is retired"},
		{"unavailable", store.ErrUnavailable, "Service temporarily unavailable"},
		{"internal details stay hidden", errors.New("pq: relation task_instances does not exist"), "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetSafeErrorMessage(tt.err))
		})
	}
}

func TestSanitizeValidationError(t *testing.T) {
	type request struct {
		Title string `validate:"required"`
		Body  string `validate:"max=3"`
	}
	v := validator.New()

	err := v.Struct(request{})
	require.Error(t, err)
	assert.Equal(t, "Invalid Title: required field", SanitizeValidationError(err))

	err = v.Struct(request{Title: "x", Body: "too long"})
	require.Error(t, err)
	assert.Equal(t, "Invalid Body: too long", SanitizeValidationError(err))

	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("something else")))
}

func TestHandleAPIError(t *testing.T) {
	t.Run("known error keeps its message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/templates/x", nil)

		HandleAPIError(rec, req, service.ErrTemplateNotFound, "Failed to get template")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "Template not found")
	})

	t.Run("unexpected error uses the fallback", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)

		HandleAPIError(rec, req, errors.New("connection reset"), "Failed to list templates")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "Failed to list templates")
		assert.NotContains(t, rec.Body.String(), "connection reset")
	})
}
