package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crewdesk/taskengine/internal/api/shared"
	"github.com/crewdesk/taskengine/internal/clock"
	"github.com/crewdesk/taskengine/internal/domain"
	"github.com/crewdesk/taskengine/internal/domain/lifecycle"
	"github.com/crewdesk/taskengine/internal/platform/logger"
	"github.com/crewdesk/taskengine/internal/service"
	"github.com/crewdesk/taskengine/internal/store"
)

// InstanceHandler handles task instance HTTP requests.
type InstanceHandler struct {
	instanceService service.InstanceService
	clock           clock.Clock
	logger          *slog.Logger
}

// NewInstanceHandler creates a new InstanceHandler. clk decides which
// reminder is reported as the next one.
func NewInstanceHandler(instanceService service.InstanceService, clk clock.Clock, logger *slog.Logger) *InstanceHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for InstanceHandler")
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &InstanceHandler{
		instanceService: instanceService,
		clock:           clk,
		logger:          logger.With(slog.String("component", "instance_handler")),
	}
}

// CreateInstance handles POST /api/instances requests. It creates a one-off task.
func (h *InstanceHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actor, ok := requireActor(w, r, log)
	if !ok {
		return
	}

	var req CreateInstanceRequest
	if !decodeAndValidate(w, r, &req, log) {
		return
	}
	fields, err := req.toFields()
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	inst, err := h.instanceService.CreateOneOff(r.Context(), actor, fields)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, instanceToResponse(inst, h.clock.Now()))
}

// ListInstances handles GET /api/instances requests, optionally filtered by
// ?status= and ?template_id=.
func (h *InstanceHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actor, ok := requireActor(w, r, log)
	if !ok {
		return
	}

	var filter store.InstanceFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseTaskStatus(raw)
		if err != nil {
			HandleAPIError(w, r, domain.NewValidationError("status", "is not a known status", err), "")
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("template_id"); raw != "" {
		id, err := parseUUID("template_id", raw)
		if err != nil {
			HandleAPIError(w, r, err, "")
			return
		}
		filter.TemplateID = &id
	}

	instances, err := h.instanceService.ListInstances(r.Context(), actor, filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}

	now := h.clock.Now()
	response := make([]InstanceResponse, 0, len(instances))
	for _, i := range instances {
		response = append(response, instanceToResponse(i, now))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// GetInstance handles GET /api/instances/{id} requests.
func (h *InstanceHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actor, id, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	inst, err := h.instanceService.GetInstance(r.Context(), actor, id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, instanceToResponse(inst, h.clock.Now()))
}

// Act handles POST /api/instances/{id}/{action} requests, where action is one
// of start, submit, approve, reject or complete.
func (h *InstanceHandler) Act(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actor, id, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	action, err := lifecycle.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusNotFound, "Unknown action")
		return
	}

	inst, err := h.instanceService.Act(r.Context(), actor, id, action)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update task")
		return
	}

	log.Debug("task action applied",
		slog.String("instance_id", inst.ID.String()),
		slog.String("action", string(action)),
		slog.String("status", string(inst.Status)))
	shared.RespondWithJSON(w, r, http.StatusOK, instanceToResponse(inst, h.clock.Now()))
}
