// Package core is the facade producers and the admin API talk to. It owns
// the registry, ledger, scheduler and stream hub and hands the delivery
// queue to the worker pool.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/Priya8975/webhook-stream-engine/internal/engine"
	"github.com/Priya8975/webhook-stream-engine/internal/ledger"
	"github.com/Priya8975/webhook-stream-engine/internal/metrics"
	"github.com/Priya8975/webhook-stream-engine/internal/queue"
	"github.com/Priya8975/webhook-stream-engine/internal/stream"
	"github.com/google/uuid"
)

// maxEventIDLength bounds producer supplied ids.
const maxEventIDLength = 256

// Options configures a Core. Queue defaults to an in-memory queue, Store
// and Metrics are optional.
type Options struct {
	EventTypes []string
	Policy     engine.RetryPolicy
	Ledger     ledger.Config
	Stream     stream.Config
	Queue      queue.Queue
	Store      engine.SubscriptionStore
	Metrics    *metrics.Metrics
}

// IngestResult is returned to producers. Delivery outcomes are only
// visible through the ledger.
type IngestResult struct {
	EventID             string `json:"event_id"`
	DeliveriesScheduled int    `json:"deliveries_scheduled"`
}

// Stats is a point-in-time operational summary.
type Stats struct {
	Subscriptions       int   `json:"subscriptions"`
	ActiveSubscriptions int   `json:"active_subscriptions"`
	QueueDepth          int64 `json:"queue_depth"`
	LedgerEntries       int   `json:"ledger_entries"`
	StreamClients       int   `json:"stream_clients"`
}

type Core struct {
	registry *engine.Registry
	ledger   *ledger.Ledger
	fanout   *engine.FanOutEngine
	hub      *stream.Hub
	queue    queue.Queue
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Core {
	eventTypes := opts.EventTypes
	if len(eventTypes) == 0 {
		eventTypes = domain.DefaultEventTypes
	}
	q := opts.Queue
	if q == nil {
		q = queue.NewMemoryQueue()
	}

	registry := engine.NewRegistry(eventTypes, opts.Store, logger)
	l := ledger.New(opts.Ledger, opts.Metrics)

	return &Core{
		registry: registry,
		ledger:   l,
		fanout:   engine.NewFanOutEngine(registry, l, q, opts.Policy, opts.Metrics, logger),
		hub:      stream.NewHub(opts.Stream, opts.Metrics, logger),
		queue:    q,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

func (c *Core) Registry() *engine.Registry { return c.registry }
func (c *Core) Ledger() *ledger.Ledger { return c.ledger }
func (c *Core) Hub() *stream.Hub { return c.hub }
func (c *Core) Queue() queue.Queue { return c.queue }

// Load warms the registry from its store.
func (c *Core) Load(ctx context.Context) error {
	return c.registry.Load(ctx)
}

// Ingest schedules webhook deliveries for event and publishes it to stream
// subscribers. It returns as soon as both are enqueued; only a malformed
// event is reported as an error.
func (c *Core) Ingest(ctx context.Context, event domain.Event) (IngestResult, error) {
	event = event.Clone()
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return IngestResult{}, fmt.Errorf("%w: type is required", domain.ErrInvalidEvent)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	} else if err := validateEventID(event.ID); err != nil {
		return IngestResult{}, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Payload == nil {
		event.Payload = domain.Object{}
	}
	// Receivers and stream clients get exactly these bytes, so an event that
	// cannot be encoded is refused before anything is scheduled.
	if _, err := event.Body(); err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}

	c.metrics.EventIngested(event.Type)

	scheduled, err := c.fanout.FanOut(ctx, event)
	if err != nil {
		c.logger.Error("fan-out incomplete",
			"event_id", event.ID,
			"event_type", event.Type,
			"deliveries_scheduled", scheduled,
			"error", err,
		)
	}

	c.hub.Publish(event)

	return IngestResult{EventID: event.ID, DeliveriesScheduled: scheduled}, nil
}

func (c *Core) Register(ctx context.Context, req domain.RegisterRequest) (domain.Subscription, error) {
	return c.registry.Register(ctx, req)
}

func (c *Core) Revoke(ctx context.Context, id string) error {
	return c.registry.Revoke(ctx, id)
}

func (c *Core) List(activeOnly bool) []domain.SubscriptionView {
	return c.registry.List(activeOnly)
}

func (c *Core) Get(id string) (domain.SubscriptionView, error) {
	return c.registry.Get(id)
}

// GetStatus aggregates the retained delivery attempts of one subscription.
func (c *Core) GetStatus(id string) (domain.DeliveryStatus, error) {
	if _, err := c.registry.Get(id); err != nil {
		return domain.DeliveryStatus{}, err
	}
	return c.ledger.StatusFor(id), nil
}

// GetHistory returns retained attempts, most recent first.
func (c *Core) GetHistory(id string, limit int) ([]domain.DeliveryAttempt, error) {
	if _, err := c.registry.Get(id); err != nil {
		return nil, err
	}
	return c.ledger.History(id, limit), nil
}

func (c *Core) GetAttempt(id string) (domain.DeliveryAttempt, error) {
	attempt, ok := c.ledger.Get(id)
	if !ok {
		return domain.DeliveryAttempt{}, fmt.Errorf("delivery attempt %s: %w", id, domain.ErrNotFound)
	}
	return attempt, nil
}

// RecentEvents returns the latest published events, oldest first.
func (c *Core) RecentEvents(limit int) []domain.Event {
	return c.hub.Recent(limit)
}

func (c *Core) EventTypes() []string {
	return c.registry.EventTypes()
}

func (c *Core) Stats(ctx context.Context) (Stats, error) {
	depth, err := c.queue.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("reading queue depth: %w", err)
	}

	return Stats{
		Subscriptions:       len(c.registry.List(false)),
		ActiveSubscriptions: len(c.registry.List(true)),
		QueueDepth:          depth,
		LedgerEntries:       c.ledger.Len(),
		StreamClients:       c.hub.ClientCount(),
	}, nil
}

func validateEventID(id string) error {
	if len(id) > maxEventIDLength {
		return fmt.Errorf("%w: id longer than %d bytes", domain.ErrInvalidEvent, maxEventIDLength)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: id contains whitespace or control characters", domain.ErrInvalidEvent)
	}
	return nil
}
