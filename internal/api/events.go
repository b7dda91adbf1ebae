package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/webhook-stream-engine/internal/core"
	"github.com/Priya8975/webhook-stream-engine/internal/domain"
)

type EventHandler struct {
	core   *core.Core
	logger *slog.Logger
}

func NewEventHandler(c *core.Core, logger *slog.Logger) *EventHandler {
	return &EventHandler{core: c, logger: logger}
}

// Create ingests an event. The response only says how many deliveries were
// scheduled; outcomes are read back through the status endpoints.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var event domain.Event
	if err := decodeJSON(w, r, &event); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.core.Ingest(r.Context(), event)
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to ingest event")
		return
	}

	respondJSON(w, http.StatusAccepted, result)
}

// List returns recently published events, oldest first.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.core.RecentEvents(parseLimit(r)))
}

func (h *EventHandler) Types(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.core.EventTypes())
}
