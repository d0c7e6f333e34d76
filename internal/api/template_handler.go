package api

import (
	"log/slog"
	"net/http"

	"github.com/crewdesk/taskengine/internal/api/shared"
	"github.com/crewdesk/taskengine/internal/platform/logger"
	"github.com/crewdesk/taskengine/internal/service"
)

// TemplateHandler handles recurring template HTTP requests.
type TemplateHandler struct {
	templateService service.TemplateService
	logger          *slog.Logger
}

// NewTemplateHandler creates a new TemplateHandler
func NewTemplateHandler(templateService service.TemplateService, logger *slog.Logger) *TemplateHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TemplateHandler")
	}

	return &TemplateHandler{
		templateService: templateService,
		logger:          logger.With(slog.String("component", "template_handler")),
	}
}

// CreateTemplate handles POST /api/templates requests.
func (h *TemplateHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actor, ok := requireActor(w, r, log)
	if !ok {
		return
	}

	var req TemplateRequest
	if !decodeAndValidate(w, r, &req, log) {
		return
	}
	fields, err := req.toFields()
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tmpl, err := h.templateService.CreateTemplate(r.Context(), actor, fields)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create template")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, templateToResponse(tmpl))
}

// ListTemplates handles GET /api/templates requests.
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actor, ok := requireActor(w, r, log)
	if !ok {
		return
	}

	templates, err := h.templateService.ListTemplates(r.Context(), actor)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list templates")
		return
	}

	response := make([]TemplateResponse, 0, len(templates))
	for _, t := range templates {
		response = append(response, templateToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// GetTemplate handles GET /api/templates/{id} requests.
func (h *TemplateHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actor, id, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	tmpl, err := h.templateService.GetTemplate(r.Context(), actor, id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get template")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, templateToResponse(tmpl))
}

// UpdateTemplate handles PUT /api/templates/{id} requests. The body replaces
// every editable field.
func (h *TemplateHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actor, id, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	var req TemplateRequest
	if !decodeAndValidate(w, r, &req, log) {
		return
	}
	fields, err := req.toFields()
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tmpl, err := h.templateService.UpdateTemplate(r.Context(), actor, id, fields)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update template")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, templateToResponse(tmpl))
}

// RetireTemplate handles POST /api/templates/{id}/retire requests.
func (h *TemplateHandler) RetireTemplate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	actor, id, ok := handleActorAndPathUUID(w, r, "id", log)
	if !ok {
		return
	}

	tmpl, err := h.templateService.RetireTemplate(r.Context(), actor, id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retire template")
		return
	}

	log.Info("template retired", slog.String("template_id", tmpl.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, templateToResponse(tmpl))
}
