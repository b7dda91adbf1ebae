package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Priya8975/webhook-stream-engine/internal/core"
	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/Priya8975/webhook-stream-engine/internal/metrics"
	"github.com/Priya8975/webhook-stream-engine/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Archive is the durable delivery history, backed by Postgres when configured.
type Archive interface {
	ListArchivedAttempts(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error)
	GetArchiveStats(ctx context.Context) (*store.ArchiveStats, error)
}

// NewRouter creates and configures the HTTP router. archive may be nil.
func NewRouter(c *core.Core, m *metrics.Metrics, archive Archive, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS for dashboard
	r.Use(corsMiddleware)

	subHandler := NewSubscriptionHandler(c, archive, logger)
	eventHandler := NewEventHandler(c, logger)
	deliveryHandler := NewDeliveryHandler(c, logger)
	dashHandler := NewDashboardHandler(c, archive, logger)
	hub := c.Hub()

	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Delete("/{id}", subHandler.Revoke)
			r.Get("/{id}/status", subHandler.Status)
			r.Get("/{id}/deliveries", subHandler.Deliveries)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventHandler.Create)
			r.Get("/", eventHandler.List)
		})
		r.Get("/event-types", eventHandler.Types)

		r.Get("/deliveries/{id}", deliveryHandler.Get)
		r.Get("/dashboard", dashHandler.Summary)

		r.Route("/stream", func(r chi.Router) {
			r.Get("/ws", hub.HandleWebSocket)
			r.Get("/sse", hub.HandleSSE)
		})
	})

	return otelhttp.NewHandler(r, "webhook-stream-engine",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
