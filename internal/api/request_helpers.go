package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crewdesk/taskengine/internal/api/shared"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/platform/logger"
	"github.com/crewdesk/taskengine/internal/service"
)

// getActorFromContext returns the authenticated actor placed in the request
// context by the authentication middleware.
func getActorFromContext(r *http.Request) (service.Actor, bool) {
	userID, tenantID, ok := shared.Identity(r.Context())
	if !ok {
		return service.Actor{}, false
	}
	return service.Actor{UserID: userID, TenantID: tenantID}, true
}

// getPathUUID extracts a UUID from the URL path parameters.
//
// Returns a *domain.ValidationError if the parameter is missing or malformed.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, domain.NewValidationError(paramName, "is required", domain.ErrValidation)
	}

	return parseUUID(paramName, pathParam)
}

func parseUUID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError(field, "has invalid format", domain.ErrInvalidID)
	}
	return id, nil
}

// requireActor writes a 401 response and returns false when the request
// carries no verified identity.
func requireActor(w http.ResponseWriter, r *http.Request, log *slog.Logger) (service.Actor, bool) {
	actor, ok := getActorFromContext(r)
	if !ok {
		log.Warn("identity not found or invalid in request context")
		HandleAPIError(w, r, errUnauthenticated, "")
		return service.Actor{}, false
	}
	return actor, true
}

// handleActorAndPathUUID extracts both the actor from context and a UUID
// from the path parameters. It writes an error response if either
// extraction fails.
func handleActorAndPathUUID(
	w http.ResponseWriter,
	r *http.Request,
	paramName string,
	log *slog.Logger,
) (service.Actor, uuid.UUID, bool) {
	if log == nil {
		log = logger.FromContextOrDefault(r.Context(), slog.Default())
	}

	actor, ok := requireActor(w, r, log)
	if !ok {
		return service.Actor{}, uuid.Nil, false
	}

	pathID, err := getPathUUID(r, paramName)
	if err != nil {
		log.Warn("invalid "+paramName, slog.String("param_name", paramName), slog.String("value", chi.URLParam(r, paramName)))
		HandleAPIError(w, r, err, "")
		return service.Actor{}, uuid.Nil, false
	}

	return actor, pathID, true
}

// decodeAndValidate decodes the JSON body into req and runs struct
// validation. It writes a 400 response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}, log *slog.Logger) bool {
	if err := shared.DecodeJSON(r, req); err != nil {
		log.Debug("invalid request body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return false
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}
