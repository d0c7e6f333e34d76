package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crewdesk/taskengine/internal/api"
	apiMiddleware "github.com/crewdesk/taskengine/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.verifier)
	templateHandler := api.NewTemplateHandler(app.templateService, app.logger)
	instanceHandler := api.NewInstanceHandler(app.instanceService, app.clock, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", templateHandler.CreateTemplate)
			r.Get("/", templateHandler.ListTemplates)
			r.Get("/{id}", templateHandler.GetTemplate)
			r.Put("/{id}", templateHandler.UpdateTemplate)
			r.Post("/{id}/retire", templateHandler.RetireTemplate)
		})

		r.Route("/instances", func(r chi.Router) {
			r.Post("/", instanceHandler.CreateInstance)
			r.Get("/", instanceHandler.ListInstances)
			r.Get("/{id}", instanceHandler.GetInstance)
			r.Post("/{id}/{action}", instanceHandler.Act)
		})
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	r.Method(http.MethodGet, "/metrics", app.metrics.Handler())

	return r
}
