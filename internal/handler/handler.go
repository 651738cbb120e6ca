// Package handler implements the HTTP API.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/config"
	"github.com/webforge-ai/webforge/internal/events"
	"github.com/webforge-ai/webforge/internal/middleware"
	"github.com/webforge-ai/webforge/internal/service"
	"github.com/webforge-ai/webforge/internal/store"
)

// Handler holds the dependencies shared by all endpoints.
type Handler struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	manager  *service.Manager
	projects *service.ProjectService
	apply    *service.Apply
	broker   *events.Broker
	started  time.Time
}

// New creates the handler.
func New(cfg *config.Config, logger *zap.Logger, s *store.Store, manager *service.Manager, projects *service.ProjectService, apply *service.Apply, broker *events.Broker) *Handler {
	return &Handler{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "handler")),
		store:    s,
		manager:  manager,
		projects: projects,
		apply:    apply,
		broker:   broker,
		started:  time.Now(),
	}
}

// Routes builds the API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.GetServerStatus)

		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Get("/", h.ListProjects)

			r.Route("/{projectID}", func(r chi.Router) {
				r.Use(middleware.ProjectRequired(h.store))
				r.Get("/", h.GetProject)

				r.Route("/sandbox", func(r chi.Router) {
					r.Post("/", h.CreateSandbox)
					r.Get("/", h.GetSandboxStatus)
					r.Delete("/", h.KillSandbox)
					r.Post("/restart", h.RestartSandbox)
					r.Post("/pause", h.PauseSandbox)
					r.Post("/resume", h.ResumeSandbox)
					r.Post("/commands", h.RunCommand)
					r.Post("/packages", h.InstallPackages)
					r.Get("/files", h.GetFileManifest)
					r.Get("/archive", h.DownloadArchive)
					r.Get("/logs", h.GetSandboxLogs)
					r.Get("/watch", h.WatchSandbox)
				})

				r.Post("/apply/stream", h.ApplyStream)
			})
		})
	})

	return r
}

// Healthz reports process liveness.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JSON writes a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// Error writes a JSON error response.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
