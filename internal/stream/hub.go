// Package stream pushes ingested events to live subscribers over WebSocket
// and Server-Sent Events.
package stream

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/Priya8975/webhook-stream-engine/internal/metrics"
	"github.com/google/uuid"
)

var (
	// ErrSlowConsumer is set on a subscriber whose queue overflowed.
	ErrSlowConsumer = errors.New("stream subscriber fell behind")
	// ErrHubClosed is set on subscribers removed at shutdown.
	ErrHubClosed = errors.New("stream hub closed")
)

// Message is one event as pushed to a subscriber.
type Message struct {
	EventID   string
	EventType string
	Data      []byte
}

// Subscriber is a handle to one live connection. Its queue is written only
// by the hub, under the hub lock, so delivery order matches publish order.
type Subscriber struct {
	ID          string
	Filter      []string
	ConnectedAt time.Time

	events chan Message
	done   chan struct{}
	err    error
}

// Events yields messages until the subscriber is removed, then closes.
func (s *Subscriber) Events() <-chan Message { return s.events }

// Done is closed when the subscriber is removed from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err reports why the subscriber was removed. It is nil while connected and
// after a normal unsubscribe.
func (s *Subscriber) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscriber) matches(eventType string) bool {
	return len(s.Filter) == 0 || domain.MatchAny(s.Filter, eventType)
}

// Config bounds per-subscriber queues and the recent-events buffer.
type Config struct {
	QueueSize  int
	RecentSize int
}

// Hub fans published events out to connected subscribers.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	queueSize int
	closed    bool

	recent     []domain.Event
	recentNext int
	recentFull bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHub creates a hub. m may be nil.
func NewHub(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 64
	}
	if cfg.RecentSize < 0 {
		cfg.RecentSize = 0
	}
	return &Hub{
		subs:      make(map[string]*Subscriber),
		queueSize: cfg.QueueSize,
		recent:    make([]domain.Event, cfg.RecentSize),
		metrics:   m,
		logger:    logger,
	}
}

// ParseFilter splits a comma separated list of event type patterns.
func ParseFilter(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Subscribe registers a subscriber for events matching filter. An empty
// filter receives everything. Only events published after Subscribe
// returns are delivered.
func (h *Hub) Subscribe(filter []string) *Subscriber {
	s := &Subscriber{
		ID:          uuid.NewString(),
		Filter:      append([]string(nil), filter...),
		ConnectedAt: time.Now().UTC(),
		events:      make(chan Message, h.queueSize),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.err = ErrHubClosed
		close(s.events)
		close(s.done)
		return s
	}
	h.subs[s.ID] = s
	count := len(h.subs)
	h.mu.Unlock()

	h.metrics.StreamClientCount(count)
	h.logger.Debug("stream subscriber connected", "subscriber_id", s.ID, "filter", s.Filter, "total_clients", count)
	return s
}

// Publish pushes event to every matching subscriber without blocking.
// Subscribers whose queue is full are disconnected.
func (h *Hub) Publish(event domain.Event) {
	data, err := event.Body()
	if err != nil {
		h.logger.Error("failed to marshal stream event", "event_id", event.ID, "error", err)
		return
	}
	msg := Message{EventID: event.ID, EventType: event.Type, Data: data}

	var dropped []*Subscriber

	h.mu.Lock()
	h.remember(event)
	for _, s := range h.subs {
		if !s.matches(event.Type) {
			continue
		}
		select {
		case s.events <- msg:
		default:
			h.removeLocked(s, ErrSlowConsumer)
			dropped = append(dropped, s)
		}
	}
	count := len(h.subs)
	h.mu.Unlock()

	for _, s := range dropped {
		h.metrics.StreamDisconnected("slow_consumer")
		h.logger.Warn("disconnected slow stream subscriber",
			"subscriber_id", s.ID,
			"queue_size", h.queueSize,
			"event_id", event.ID,
		)
	}
	if len(dropped) > 0 {
		h.metrics.StreamClientCount(count)
	}
}

// Unsubscribe removes s. Calling it more than once is safe.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s.ID]
	if ok {
		h.removeLocked(s, nil)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.metrics.StreamDisconnected("unsubscribed")
	h.metrics.StreamClientCount(count)
	h.logger.Debug("stream subscriber disconnected", "subscriber_id", s.ID, "total_clients", count)
}

// Close disconnects every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	n := len(h.subs)
	for _, s := range h.subs {
		h.removeLocked(s, ErrHubClosed)
	}
	h.mu.Unlock()

	if n > 0 {
		h.metrics.StreamClientCount(0)
		h.logger.Info("stream hub closed", "disconnected", n)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Recent returns up to limit of the latest published events, oldest first.
// It is an operator view and is never replayed to subscribers.
func (h *Hub) Recent(limit int) []domain.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := len(h.recent)
	n := h.recentNext
	if h.recentFull {
		n = size
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]domain.Event, 0, limit)
	for i := n - limit; i < n; i++ {
		idx := i
		if h.recentFull {
			idx = (h.recentNext + i) % size
		}
		out = append(out, h.recent[idx])
	}
	return out
}

func (h *Hub) remember(event domain.Event) {
	if len(h.recent) == 0 {
		return
	}
	h.recent[h.recentNext] = event.Clone()
	h.recentNext++
	if h.recentNext == len(h.recent) {
		h.recentNext = 0
		h.recentFull = true
	}
}

// removeLocked must be called with h.mu held for writing.
func (h *Hub) removeLocked(s *Subscriber, reason error) {
	delete(h.subs, s.ID)
	s.err = reason
	close(s.done)
	close(s.events)
}
