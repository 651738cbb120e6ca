package handler

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/webforge-ai/webforge/internal/sysinfo"
)

// DiskUsageInfo describes filesystem usage for the data directory.
type DiskUsageInfo struct {
	TotalBytes     uint64  `json:"totalBytes"`
	UsedBytes      uint64  `json:"usedBytes"`
	AvailableBytes uint64  `json:"availableBytes"`
	UsedPercent    float64 `json:"usedPercent"`
}

// ServerStatus is the response shape of GET /api/status.
type ServerStatus struct {
	UptimeSeconds   int64          `json:"uptimeSeconds"`
	ActiveSandboxes int            `json:"activeSandboxes"`
	SandboxBackend  string         `json:"sandboxBackend"`
	HostMemoryBytes uint64         `json:"hostMemoryBytes"`
	DataDisk        *DiskUsageInfo `json:"dataDisk,omitempty"`
}

// GetServerStatus reports uptime, registry size, and data-dir disk usage.
// GET /api/status
func (h *Handler) GetServerStatus(w http.ResponseWriter, r *http.Request) {
	status := ServerStatus{
		UptimeSeconds:   int64(time.Since(h.started).Seconds()),
		ActiveSandboxes: h.manager.Count(),
		SandboxBackend:  h.cfg.SandboxBackend,
		HostMemoryBytes: sysinfo.TotalMemoryBytes(),
	}

	if h.cfg.DatabaseDriver == "sqlite" && h.cfg.DatabaseDSN != "" {
		status.DataDisk = getDiskUsage(filepath.Dir(h.cfg.DatabaseDSN))
	}

	h.JSON(w, http.StatusOK, status)
}
