package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/middleware"
	"github.com/webforge-ai/webforge/internal/sandbox"
	"github.com/webforge-ai/webforge/internal/store"
)

// providerForProject resolves the live Provider for a project: the registry
// entry when one exists, otherwise a reconnect using the persisted record.
func (h *Handler) providerForProject(ctx context.Context, projectID string) (sandbox.Provider, error) {
	if sandboxID, ok := h.manager.ProjectSandbox(projectID); ok {
		return h.manager.Get(sandboxID)
	}

	rec, err := h.store.GetSandboxRecord(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, sandbox.ErrNotFound
		}
		return nil, err
	}
	if rec.SandboxID == "" || rec.Status == "terminated" {
		return nil, sandbox.ErrNotFound
	}

	return h.manager.GetOrReconnect(ctx, projectID, rec.SandboxID)
}

// sandboxError maps sandbox error taxonomy to HTTP status codes.
func sandboxError(err error) int {
	switch {
	case errors.Is(err, sandbox.ErrNotFound), errors.Is(err, sandbox.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, sandbox.ErrCreateConflict):
		return http.StatusConflict
	case errors.Is(err, sandbox.ErrReconnectTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, sandbox.ErrReconnectFailed), errors.Is(err, sandbox.ErrCreateFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CreateSandbox provisions a sandbox for the project.
// POST /api/projects/{projectID}/sandbox
func (h *Handler) CreateSandbox(w http.ResponseWriter, r *http.Request) {
	projectID := middleware.GetProjectID(r.Context())

	info, err := h.manager.CreateSandbox(r.Context(), projectID)
	if err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}

	h.JSON(w, http.StatusCreated, info)
}

// GetSandboxStatus returns live plus persisted sandbox state.
// GET /api/projects/{projectID}/sandbox
func (h *Handler) GetSandboxStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	resp := map[string]any{"live": false}

	if sandboxID, ok := h.manager.ProjectSandbox(projectID); ok {
		if provider, err := h.manager.Get(sandboxID); err == nil {
			resp["live"] = provider.IsAlive(ctx)
			if info := provider.Info(); info != nil {
				resp["sandbox"] = info
			}
		}
	}

	if rec, err := h.store.GetSandboxRecord(ctx, projectID); err == nil {
		resp["persisted"] = map[string]any{
			"sandboxId":  rec.SandboxID,
			"status":     rec.Status,
			"lastActive": rec.LastActive,
		}
	}

	h.JSON(w, http.StatusOK, resp)
}

// KillSandbox terminates the project's sandbox.
// DELETE /api/projects/{projectID}/sandbox
func (h *Handler) KillSandbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	if sandboxID, ok := h.manager.ProjectSandbox(projectID); ok {
		h.manager.Terminate(ctx, sandboxID)
	} else if rec, err := h.store.GetSandboxRecord(ctx, projectID); err == nil && rec.SandboxID != "" {
		// Not in the registry; reconnect so the remote session is
		// actually destroyed, then terminate.
		if _, err := h.manager.GetOrReconnect(ctx, projectID, rec.SandboxID); err == nil {
			h.manager.Terminate(ctx, rec.SandboxID)
		}
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

// RestartSandbox kills any existing sandbox and provisions a fresh one.
// POST /api/projects/{projectID}/sandbox/restart
func (h *Handler) RestartSandbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	if sandboxID, ok := h.manager.ProjectSandbox(projectID); ok {
		h.manager.Terminate(ctx, sandboxID)
	}

	info, err := h.manager.CreateSandbox(ctx, projectID)
	if err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}
	h.JSON(w, http.StatusCreated, info)
}

// PauseSandbox suspends the project's sandbox.
// POST /api/projects/{projectID}/sandbox/pause
func (h *Handler) PauseSandbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	sandboxID, ok := h.manager.ProjectSandbox(projectID)
	if !ok {
		h.Error(w, http.StatusNotFound, "no sandbox for project")
		return
	}
	if err := h.manager.Pause(ctx, sandboxID); err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeSandbox wakes the project's sandbox.
// POST /api/projects/{projectID}/sandbox/resume
func (h *Handler) ResumeSandbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	sandboxID, ok := h.manager.ProjectSandbox(projectID)
	if !ok {
		h.Error(w, http.StatusNotFound, "no sandbox for project")
		return
	}
	if err := h.manager.Resume(ctx, sandboxID); err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// RunCommand runs a one-shot command in the project's sandbox.
// POST /api/projects/{projectID}/sandbox/commands
func (h *Handler) RunCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	var req struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		h.Error(w, http.StatusBadRequest, "command is required")
		return
	}

	provider, err := h.providerForProject(ctx, projectID)
	if err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}

	res, err := provider.RunCommand(ctx, req.Command)
	if err != nil {
		h.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, res)
}

// InstallPackages installs npm packages in the project's sandbox.
// POST /api/projects/{projectID}/sandbox/packages
func (h *Handler) InstallPackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	var req struct {
		Packages []string `json:"packages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Packages) == 0 {
		h.Error(w, http.StatusBadRequest, "packages are required")
		return
	}

	provider, err := h.providerForProject(ctx, projectID)
	if err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}

	res, err := provider.InstallPackages(ctx, req.Packages)
	if err != nil {
		h.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, res)
}

// GetFileManifest returns the paths and contents of the project's files.
// GET /api/projects/{projectID}/sandbox/files
func (h *Handler) GetFileManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	provider, err := h.providerForProject(ctx, projectID)
	if err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}

	paths, err := provider.ListFiles(ctx, "")
	if err != nil {
		h.Error(w, http.StatusBadGateway, err.Error())
		return
	}

	withContent := r.URL.Query().Get("content") == "true"
	files := make([]map[string]any, 0, len(paths))
	for _, path := range paths {
		entry := map[string]any{"path": path}
		if withContent {
			content, err := provider.ReadFile(ctx, path)
			if err != nil {
				h.logger.Warn("manifest read failed", zap.String("path", path), zap.Error(err))
				continue
			}
			entry["content"] = content
		}
		files = append(files, entry)
	}

	h.JSON(w, http.StatusOK, map[string]any{"files": files, "count": len(files)})
}

// GetSandboxLogs returns the tail of the dev-server log.
// GET /api/projects/{projectID}/sandbox/logs
func (h *Handler) GetSandboxLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	provider, err := h.providerForProject(ctx, projectID)
	if err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}

	lines := 100
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10000 {
			lines = n
		}
	}

	res, err := provider.RunCommand(ctx, fmt.Sprintf("tail -n %d /tmp/devserver.log 2>/dev/null || true", lines))
	if err != nil {
		h.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"logs": res.Stdout})
}
