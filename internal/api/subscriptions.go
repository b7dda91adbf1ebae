package api

import (
	"log/slog"
	"net/http"

	"github.com/Priya8975/webhook-stream-engine/internal/core"
	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/go-chi/chi/v5"
)

type SubscriptionHandler struct {
	core    *core.Core
	archive Archive
	logger  *slog.Logger
}

func NewSubscriptionHandler(c *core.Core, archive Archive, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{core: c, archive: archive, logger: logger}
}

// Create registers a subscription. This is the only response that carries
// the signing secret.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.core.Register(r.Context(), req)
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to register subscription")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") == "true"
	respondJSON(w, http.StatusOK, h.core.List(activeOnly))
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.core.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get subscription")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, h.logger, err, "failed to revoke subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.core.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to get delivery status")
		return
	}

	respondJSON(w, http.StatusOK, status)
}

// Deliveries lists attempts for a subscription, most recent first. With
// ?source=archive the Postgres archive is read instead of the ledger, which
// keeps attempts the ledger has already evicted.
func (h *SubscriptionHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseLimit(r)

	if r.URL.Query().Get("source") == "archive" {
		if h.archive == nil {
			respondError(w, http.StatusNotImplemented, "delivery archive not configured")
			return
		}
		if _, err := h.core.Get(id); err != nil {
			respondDomainError(w, h.logger, err, "failed to list deliveries")
			return
		}
		attempts, err := h.archive.ListArchivedAttempts(r.Context(), id, limit)
		if err != nil {
			respondDomainError(w, h.logger, err, "failed to list archived deliveries")
			return
		}
		respondJSON(w, http.StatusOK, attempts)
		return
	}

	attempts, err := h.core.GetHistory(id, limit)
	if err != nil {
		respondDomainError(w, h.logger, err, "failed to list deliveries")
		return
	}

	respondJSON(w, http.StatusOK, attempts)
}
