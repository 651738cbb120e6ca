package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/middleware"
	"github.com/webforge-ai/webforge/internal/service"
	"github.com/webforge-ai/webforge/internal/stream"
)

// ApplyStream applies an AI generation response to the project's sandbox,
// streaming progress events over SSE. The stream always ends with exactly
// one terminal event (complete or error) and is closed exactly once, even
// when writing the error event itself fails.
// POST /api/projects/{projectID}/apply/stream
func (h *Handler) ApplyStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := middleware.GetProjectID(ctx)

	var req struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Response == "" {
		h.Error(w, http.StatusBadRequest, "response is required")
		return
	}

	plan := service.ParseResponse(req.Response)
	if len(plan.Files) == 0 && len(plan.Commands) == 0 && len(plan.Packages) == 0 {
		h.Error(w, http.StatusBadRequest, "response contains nothing to apply")
		return
	}

	provider, err := h.providerForProject(ctx, projectID)
	if err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}

	sse, err := stream.NewSSE(w)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer sse.Close()

	emit := func(ev stream.Event) error {
		if err := sse.Send(ev); err != nil {
			return err
		}
		// Stream-class events can be followed by long silent stretches of
		// remote work; a keepalive holds the transport open through them.
		if ev.Type == stream.TypeCommandOutput {
			sse.Keepalive()
		}
		return nil
	}

	h.logger.Info("apply run started",
		zap.String("project_id", projectID),
		zap.Int("files", len(plan.Files)),
		zap.Int("commands", len(plan.Commands)),
		zap.Int("packages", len(plan.Packages)))

	// The request context carries consumer disconnection into the run; the
	// pipeline checks it between steps and aborts with a terminal error.
	h.apply.Run(ctx, provider, plan, emit)
}
