package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/webhook-stream-engine/internal/core"
	"github.com/Priya8975/webhook-stream-engine/internal/store"
)

type DashboardHandler struct {
	core    *core.Core
	archive Archive
	logger  *slog.Logger
}

func NewDashboardHandler(c *core.Core, archive Archive, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{core: c, archive: archive, logger: logger}
}

type dashboardResponse struct {
	core.Stats
	EventTypes []string            `json:"event_types"`
	Archive    *store.ArchiveStats `json:"archive,omitempty"`
}

// Summary returns the operational snapshot shown on the dashboard.
func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	stats, err := h.core.Stats(r.Context())
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get stats")
		return
	}

	resp := dashboardResponse{
		Stats:      stats,
		EventTypes: h.core.EventTypes(),
	}

	if h.archive != nil {
		archived, err := h.archive.GetArchiveStats(r.Context())
		if err != nil {
			// The live view is still useful without the archive.
			h.logger.Warn("failed to read archive stats", "error", err)
		} else {
			resp.Archive = archived
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
