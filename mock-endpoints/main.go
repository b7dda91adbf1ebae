// Command mock-endpoints runs webhook receivers for manual end-to-end runs
// against the engine.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/engine"
	"github.com/Priya8975/webhook-stream-engine/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type receiver struct {
	secret   string
	failures int
	logger   *slog.Logger

	requests atomic.Int64

	mu   sync.Mutex
	seen map[string]int // delivery id -> calls received
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	failures := 1
	if s := os.Getenv("FLAKY_FAILURES"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			failures = n
		}
	}

	rc := &receiver{
		secret:   os.Getenv("WEBHOOK_SECRET"),
		failures: failures,
		logger:   logger,
		seen:     make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/webhook/success", rc.success)
	r.Post("/webhook/slow", rc.slow)
	r.Post("/webhook/fail", rc.fail)
	r.Post("/webhook/flaky", rc.flaky)
	r.Post("/webhook/verify", rc.verify)
	r.Get("/stats", rc.stats)

	logger.Info("mock endpoint server starting",
		"port", port,
		"flaky_failures", failures,
		"verify_enabled", rc.secret != "",
	)

	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// success always returns 200.
func (rc *receiver) success(w http.ResponseWriter, r *http.Request) {
	rc.logRequest(r, http.StatusOK)
	respond(w, http.StatusOK, map[string]string{"status": "received"})
}

// slow delays 3 seconds before responding.
func (rc *receiver) slow(w http.ResponseWriter, r *http.Request) {
	time.Sleep(3 * time.Second)
	rc.logRequest(r, http.StatusOK)
	respond(w, http.StatusOK, map[string]string{"status": "received (slow)"})
}

// fail always returns 500.
func (rc *receiver) fail(w http.ResponseWriter, r *http.Request) {
	rc.logRequest(r, http.StatusInternalServerError)
	respond(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// flaky fails the first FLAKY_FAILURES calls of every delivery, then succeeds.
func (rc *receiver) flaky(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(worker.HeaderDeliveryID)

	rc.mu.Lock()
	rc.seen[id]++
	calls := rc.seen[id]
	rc.mu.Unlock()

	if calls <= rc.failures {
		rc.logRequest(r, http.StatusServiceUnavailable)
		respond(w, http.StatusServiceUnavailable, map[string]string{"error": "try again"})
		return
	}

	rc.logRequest(r, http.StatusOK)
	respond(w, http.StatusOK, map[string]any{"status": "received", "calls": calls})
}

// verify checks the signature against WEBHOOK_SECRET.
func (rc *receiver) verify(w http.ResponseWriter, r *http.Request) {
	if rc.secret == "" {
		respond(w, http.StatusServiceUnavailable, map[string]string{"error": "WEBHOOK_SECRET not set"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "reading body"})
		return
	}

	if !engine.Verify(rc.secret, body, r.Header.Get(worker.HeaderSignature)) {
		rc.logRequest(r, http.StatusUnauthorized)
		respond(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	rc.logRequest(r, http.StatusOK)
	respond(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (rc *receiver) stats(w http.ResponseWriter, r *http.Request) {
	rc.mu.Lock()
	deliveries := len(rc.seen)
	rc.mu.Unlock()

	respond(w, http.StatusOK, map[string]int64{
		"total_requests":   rc.requests.Load(),
		"flaky_deliveries": int64(deliveries),
	})
}

func (rc *receiver) logRequest(r *http.Request, status int) {
	rc.logger.Info("webhook received",
		"n", rc.requests.Add(1),
		"path", r.URL.Path,
		"status", status,
		"event_id", r.Header.Get(worker.HeaderEventID),
		"event_type", r.Header.Get(worker.HeaderEventType),
		"delivery_id", truncate(r.Header.Get(worker.HeaderDeliveryID), 8),
		"attempt", r.Header.Get(worker.HeaderAttempt),
		"signature", truncate(r.Header.Get(worker.HeaderSignature), 16),
	)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
