package handler

import (
	"fmt"
	"net/http"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/webforge-ai/webforge/internal/middleware"
)

// DownloadArchive streams the project's working tree as a zip archive.
// GET /api/projects/{projectID}/sandbox/archive
func (h *Handler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := middleware.GetProject(ctx)

	provider, err := h.providerForProject(ctx, project.ID)
	if err != nil {
		h.Error(w, sandboxError(err), err.Error())
		return
	}

	paths, err := provider.ListFiles(ctx, "")
	if err != nil {
		h.Error(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s.zip"`, project.Slug))

	zw := zip.NewWriter(w)
	for _, path := range paths {
		content, err := provider.ReadFile(ctx, path)
		if err != nil {
			// Headers are already sent; skip the file rather than
			// aborting the whole archive.
			h.logger.Warn("archive read failed", zap.String("path", path), zap.Error(err))
			continue
		}
		f, err := zw.Create(path)
		if err != nil {
			h.logger.Warn("archive entry failed", zap.String("path", path), zap.Error(err))
			break
		}
		if _, err := f.Write([]byte(content)); err != nil {
			h.logger.Warn("archive write failed", zap.String("path", path), zap.Error(err))
			break
		}
	}
	if err := zw.Close(); err != nil {
		h.logger.Warn("archive close failed", zap.Error(err))
	}
}
