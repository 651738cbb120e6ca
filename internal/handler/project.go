package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/webforge-ai/webforge/internal/middleware"
	"github.com/webforge-ai/webforge/internal/store"
)

// CreateProject creates a new project.
// POST /api/projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	project, err := h.projects.CreateProject(r.Context(), req.Name)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	h.JSON(w, http.StatusCreated, project)
}

// ListProjects returns all projects.
// GET /api/projects
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.ListProjects(r.Context())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, projects)
}

// GetProject returns one project.
// GET /api/projects/{projectID}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := middleware.GetProjectID(r.Context())

	project, err := h.projects.GetProject(r.Context(), projectID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		h.Error(w, status, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, project)
}
