// Package ledger keeps a bounded, in-memory record of delivery attempts for
// operational status queries. It is not an audit log.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/Priya8975/webhook-stream-engine/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrTerminal is returned when updating an attempt that already finished.
	ErrTerminal = errors.New("attempt already in terminal state")
	// ErrExists is returned by Create when the attempt is already retained.
	ErrExists = errors.New("attempt already exists")
)

// Config bounds retention. Entries beyond MaxEntries or older than MaxAge
// are evicted, oldest first.
type Config struct {
	MaxEntries int
	MaxAge     time.Duration
}

// Ledger records attempts keyed by id with a per-subscription index.
//
// Lock order: mu may be held while calling into cache; idxMu is never held
// while calling into cache, because the cache invokes onEvict with its own
// lock held, possibly from its expiry goroutine.
type Ledger struct {
	mu    sync.Mutex
	cache *lru.LRU[string, domain.DeliveryAttempt]

	idxMu sync.Mutex
	bySub map[string]map[string]uint64
	seq   uint64

	metrics *metrics.Metrics
}

// New creates a ledger. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Ledger {
	l := &Ledger{
		bySub:   make(map[string]map[string]uint64),
		metrics: m,
	}
	l.cache = lru.NewLRU[string, domain.DeliveryAttempt](cfg.MaxEntries, l.onEvict, cfg.MaxAge)
	return l
}

// Create inserts a new attempt. It fails with ErrExists when the ledger
// already holds one with the same id, so concurrent callers scheduling the
// same attempt get exactly one success.
func (l *Ledger) Create(attempt domain.DeliveryAttempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("creating attempt: empty id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.cache.Peek(attempt.ID); ok {
		return fmt.Errorf("attempt %s: %w", attempt.ID, ErrExists)
	}
	l.put(attempt)
	return nil
}

// Record inserts or replaces an attempt in O(1).
func (l *Ledger) Record(attempt domain.DeliveryAttempt) error {
	if attempt.ID == "" {
		return fmt.Errorf("recording attempt: empty id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.cache.Peek(attempt.ID); ok && prev.State.Terminal() {
		return fmt.Errorf("attempt %s is %s: %w", attempt.ID, prev.State, ErrTerminal)
	}
	l.put(attempt)
	return nil
}

// put stores attempt and indexes it. l.mu must be held.
func (l *Ledger) put(attempt domain.DeliveryAttempt) {
	l.cache.Add(attempt.ID, attempt)
	l.index(attempt)

	// The entry can expire between Add and index, in which case onEvict
	// has already run and found nothing to remove. Holding mu keeps other
	// writers out, so a second look settles it.
	if _, ok := l.cache.Peek(attempt.ID); !ok {
		l.unindex(attempt.SubscriptionID, attempt.ID)
	}
}

func (l *Ledger) index(attempt domain.DeliveryAttempt) {
	l.idxMu.Lock()
	defer l.idxMu.Unlock()

	ids, ok := l.bySub[attempt.SubscriptionID]
	if !ok {
		ids = make(map[string]uint64)
		l.bySub[attempt.SubscriptionID] = ids
	}
	if _, seen := ids[attempt.ID]; !seen {
		l.seq++
		ids[attempt.ID] = l.seq
	}
}

func (l *Ledger) unindex(subscriptionID, id string) {
	l.idxMu.Lock()
	defer l.idxMu.Unlock()

	if ids, ok := l.bySub[subscriptionID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(l.bySub, subscriptionID)
		}
	}
}

// Get returns a copy of one attempt.
func (l *Ledger) Get(id string) (domain.DeliveryAttempt, bool) {
	return l.cache.Peek(id)
}

// Exists reports whether the ledger still holds the attempt.
func (l *Ledger) Exists(id string) bool {
	_, ok := l.cache.Peek(id)
	return ok
}

// Len is the number of retained attempts.
func (l *Ledger) Len() int {
	return l.cache.Len()
}

// StatusFor aggregates the retained attempts of one subscription. In-flight
// attempts count as pending.
func (l *Ledger) StatusFor(subscriptionID string) domain.DeliveryStatus {
	status := domain.DeliveryStatus{SubscriptionID: subscriptionID}

	for _, a := range l.attemptsFor(subscriptionID) {
		status.Total++
		switch a.State {
		case domain.StatePending, domain.StateInFlight:
			status.Pending++
		case domain.StateDelivered:
			status.Delivered++
			if a.CompletedAt != nil && (status.LastDeliveredAt == nil || a.CompletedAt.After(*status.LastDeliveredAt)) {
				completed := *a.CompletedAt
				status.LastDeliveredAt = &completed
			}
		case domain.StateFailed:
			status.Failed++
		}

		if status.MostRecentAttempt == nil || a.UpdatedAt.After(status.MostRecentAttempt.UpdatedAt) {
			recent := a
			status.MostRecentAttempt = &recent
		}
	}

	return status
}

// History returns up to limit attempts, most recently created first.
// A non-positive limit returns everything retained.
func (l *Ledger) History(subscriptionID string, limit int) []domain.DeliveryAttempt {
	attempts := l.attemptsFor(subscriptionID)
	if limit > 0 && len(attempts) > limit {
		attempts = attempts[:limit]
	}
	return attempts
}

// attemptsFor snapshots the index, then reads the cache without idxMu held.
func (l *Ledger) attemptsFor(subscriptionID string) []domain.DeliveryAttempt {
	type ref struct {
		id  string
		seq uint64
	}

	l.idxMu.Lock()
	refs := make([]ref, 0, len(l.bySub[subscriptionID]))
	for id, seq := range l.bySub[subscriptionID] {
		refs = append(refs, ref{id: id, seq: seq})
	}
	l.idxMu.Unlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i].seq > refs[j].seq })

	out := make([]domain.DeliveryAttempt, 0, len(refs))
	for _, r := range refs {
		if a, ok := l.cache.Peek(r.id); ok {
			out = append(out, a)
		}
	}
	return out
}

func (l *Ledger) onEvict(id string, attempt domain.DeliveryAttempt) {
	l.unindex(attempt.SubscriptionID, id)
	l.metrics.LedgerEvicted()
}
