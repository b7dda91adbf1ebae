package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/webhook-stream-engine/internal/core"
	"github.com/go-chi/chi/v5"
)

type DeliveryHandler struct {
	core   *core.Core
	logger *slog.Logger
}

func NewDeliveryHandler(c *core.Core, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{core: c, logger: logger}
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.core.GetAttempt(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get delivery attempt")
		return
	}

	respondJSON(w, http.StatusOK, attempt)
}
