package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/Priya8975/webhook-stream-engine/internal/engine"
	"github.com/Priya8975/webhook-stream-engine/internal/ledger"
	"github.com/Priya8975/webhook-stream-engine/internal/metrics"
	"github.com/Priya8975/webhook-stream-engine/internal/queue"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Webhook request headers.
const (
	HeaderEventID    = "X-Event-ID"
	HeaderEventType  = "X-Event-Type"
	HeaderWebhookID  = "X-Webhook-ID"
	HeaderDeliveryID = "X-Delivery-ID"
	HeaderAttempt    = "X-Webhook-Attempt"
	HeaderSignature  = engine.SignatureHeader
)

const tracerName = "github.com/Priya8975/webhook-stream-engine/internal/worker"

// SubscriptionLookup resolves a subscription, revoked ones included.
type SubscriptionLookup interface {
	Lookup(id string) (domain.Subscription, bool)
}

// AttemptRecorder receives every state transition of an attempt.
type AttemptRecorder interface {
	Record(attempt domain.DeliveryAttempt) error
}

// Archive optionally persists attempts after each call.
type Archive interface {
	ArchiveAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
}

// DeliveryError describes why one webhook call did not succeed. It is only
// ever recorded in the ledger, never returned to producers.
type DeliveryError struct {
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("request timed out: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("request failed: %v", e.Err)
	default:
		return fmt.Sprintf("receiver returned HTTP %d", e.StatusCode)
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// DelivererConfig wires a Deliverer. Archive, Metrics and HTTPClient are
// optional.
type DelivererConfig struct {
	Subscriptions SubscriptionLookup
	Ledger        AttemptRecorder
	Queue         queue.Queue
	Policy        engine.RetryPolicy
	Timeout       time.Duration
	Archive       Archive
	Metrics       *metrics.Metrics
	HTTPClient    *http.Client
}

// Deliverer makes one webhook call per job and decides what happens next.
type Deliverer struct {
	httpClient *http.Client
	subs       SubscriptionLookup
	ledger     AttemptRecorder
	queue      queue.Queue
	policy     engine.RetryPolicy
	timeout    time.Duration
	archive    Archive
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewDeliverer creates a deliverer with a traced HTTP client.
func NewDeliverer(cfg DelivererConfig, logger *slog.Logger) *Deliverer {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Deliverer{
		httpClient: client,
		subs:       cfg.Subscriptions,
		ledger:     cfg.Ledger,
		queue:      cfg.Queue,
		policy:     cfg.Policy,
		timeout:    timeout,
		archive:    cfg.Archive,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
		inFlight:   make(map[string]struct{}),
	}
}

// Deliver runs one network call for job. On a retryable failure the job is
// pushed back to the queue with its next ready time; the queue owns it again
// from that point.
func (d *Deliverer) Deliver(ctx context.Context, job queue.Job) {
	attempt := job.Attempt

	if !d.acquire(attempt.ID) {
		d.metrics.ConcurrentViolation()
		d.logger.Error("refused concurrent call for the same attempt",
			"attempt_id", attempt.ID,
			"subscription_id", attempt.SubscriptionID,
		)
		return
	}
	defer d.release(attempt.ID)

	sub, ok := d.subs.Lookup(attempt.SubscriptionID)
	if !ok {
		d.finish(ctx, attempt, domain.StateFailed, nil, "subscription not found")
		return
	}

	now := time.Now().UTC()
	attempt.State = domain.StateInFlight
	attempt.Attempts++
	attempt.NextRetryAt = nil
	attempt.UpdatedAt = now
	if err := d.ledger.Record(attempt); err != nil {
		if errors.Is(err, ledger.ErrTerminal) {
			d.logger.Warn("skipping finished attempt", "attempt_id", attempt.ID)
			return
		}
		d.logger.Error("failed to record attempt", "attempt_id", attempt.ID, "error", err)
	}

	body, err := job.Event.Body()
	if err != nil {
		d.finish(ctx, attempt, domain.StateFailed, nil, fmt.Sprintf("serializing event: %v", err))
		return
	}

	start := time.Now()
	statusCode, callErr := d.call(ctx, sub, attempt, job.Event, body)
	attempt.LatencyMs = time.Since(start).Milliseconds()

	if callErr == nil {
		d.finish(ctx, attempt, domain.StateDelivered, &statusCode, "")
		return
	}

	var code *int
	if statusCode != 0 {
		code = &statusCode
	}

	if !d.policy.ShouldRetry(attempt.Attempts) {
		d.finish(ctx, attempt, domain.StateFailed, code, callErr.Error())
		return
	}

	d.reschedule(ctx, job, attempt, code, callErr)
}

// call performs the signed POST within the per-attempt timeout.
func (d *Deliverer) call(ctx context.Context, sub domain.Subscription, attempt domain.DeliveryAttempt, event domain.Event, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "webhook.deliver", trace.WithAttributes(
		attribute.String("webhook.subscription_id", sub.ID),
		attribute.String("webhook.attempt_id", attempt.ID),
		attribute.String("webhook.event_type", event.Type),
		attribute.Int("webhook.attempt", attempt.Attempts),
	))
	defer span.End()

	done := d.metrics.CallStarted()
	start := time.Now()

	statusCode, err := d.post(ctx, sub, attempt, event, body)

	result := "success"
	if err != nil {
		result = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if statusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	}
	done(result, time.Since(start))

	return statusCode, err
}

func (d *Deliverer) post(ctx context.Context, sub domain.Subscription, attempt domain.DeliveryAttempt, event domain.Event, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, &DeliveryError{Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderEventType, event.Type)
	req.Header.Set(HeaderWebhookID, sub.ID)
	req.Header.Set(HeaderDeliveryID, attempt.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt.Attempts))
	req.Header.Set(HeaderSignature, engine.Sign(sub.Secret, body))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, &DeliveryError{Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	// drain a little so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &DeliveryError{StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

func (d *Deliverer) reschedule(ctx context.Context, job queue.Job, attempt domain.DeliveryAttempt, code *int, cause error) {
	now := time.Now().UTC()
	next := d.policy.NextRetryTime(now, attempt.Attempts)

	attempt.State = domain.StatePending
	attempt.LastStatusCode = code
	attempt.LastError = cause.Error()
	attempt.NextRetryAt = &next
	attempt.UpdatedAt = now
	d.record(ctx, attempt)

	job.Attempt = attempt
	if err := d.queue.Push(ctx, job, next); err != nil {
		d.finish(ctx, attempt, domain.StateFailed, code, fmt.Sprintf("requeue: %v", err))
		return
	}

	d.logger.Warn("delivery failed, retry scheduled",
		"attempt_id", attempt.ID,
		"event_id", attempt.EventID,
		"subscription_id", attempt.SubscriptionID,
		"attempt", attempt.Attempts,
		"status_code", code,
		"error", attempt.LastError,
		"next_retry_at", next,
	)
}

func (d *Deliverer) finish(ctx context.Context, attempt domain.DeliveryAttempt, state domain.DeliveryState, code *int, errMsg string) {
	now := time.Now().UTC()
	attempt.State = state
	attempt.LastStatusCode = code
	attempt.LastError = errMsg
	attempt.NextRetryAt = nil
	attempt.UpdatedAt = now
	attempt.CompletedAt = &now
	d.record(ctx, attempt)
	d.metrics.DeliveryFinished(string(state))

	if state == domain.StateDelivered {
		d.logger.Info("delivery successful",
			"attempt_id", attempt.ID,
			"event_id", attempt.EventID,
			"subscription_id", attempt.SubscriptionID,
			"attempt", attempt.Attempts,
			"status_code", code,
			"response_time_ms", attempt.LatencyMs,
		)
		return
	}

	d.logger.Warn("delivery failed permanently",
		"attempt_id", attempt.ID,
		"event_id", attempt.EventID,
		"subscription_id", attempt.SubscriptionID,
		"attempt", attempt.Attempts,
		"status_code", code,
		"error", errMsg,
	)
}

func (d *Deliverer) record(ctx context.Context, attempt domain.DeliveryAttempt) {
	if err := d.ledger.Record(attempt); err != nil {
		d.logger.Error("failed to record attempt", "attempt_id", attempt.ID, "error", err)
	}
	if d.archive == nil {
		return
	}
	if err := d.archive.ArchiveAttempt(ctx, attempt); err != nil {
		d.logger.Error("failed to archive attempt", "attempt_id", attempt.ID, "error", err)
	}
}

func (d *Deliverer) acquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[id]; busy {
		return false
	}
	d.inFlight[id] = struct{}{}
	return true
}

func (d *Deliverer) release(id string) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.mu.Unlock()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
