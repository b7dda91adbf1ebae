package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest caller-supplied signing secret accepted.
const MinSecretLength = 16

// SubscriptionStore persists subscriptions so the registry survives restarts.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub domain.Subscription) error
	RevokeSubscription(ctx context.Context, id string, revokedAt time.Time) error
	LoadSubscriptions(ctx context.Context) ([]domain.Subscription, error)
}

// Registry is the catalog of webhook subscriptions and the single source of
// truth for whether a subscription is active. Reads vastly outnumber writes.
type Registry struct {
	mu       sync.RWMutex
	subs     map[string]*domain.Subscription
	order    []string
	types    map[string]struct{}
	families map[string]struct{}
	store    SubscriptionStore
	logger   *slog.Logger
}

// NewRegistry creates a registry accepting the given event-type vocabulary.
// store may be nil for a purely in-memory registry.
func NewRegistry(eventTypes []string, store SubscriptionStore, logger *slog.Logger) *Registry {
	r := &Registry{
		subs:     make(map[string]*domain.Subscription),
		types:    make(map[string]struct{}),
		families: make(map[string]struct{}),
		store:    store,
		logger:   logger,
	}
	for _, t := range eventTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		r.types[t] = struct{}{}
		if i := strings.Index(t, "."); i > 0 {
			r.families[t[:i]] = struct{}{}
		}
	}
	return r
}

// Load replaces the in-memory catalog with the persisted one.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	subs, err := r.store.LoadSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("loading subscriptions: %w", err)
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string]*domain.Subscription, len(subs))
	r.order = r.order[:0]
	for i := range subs {
		sub := subs[i]
		r.subs[sub.ID] = &sub
		r.order = append(r.order, sub.ID)
	}

	r.logger.Info("subscriptions loaded", "count", len(subs))
	return nil
}

// Register validates req and creates an active subscription. The returned
// value is the only place the secret is ever exposed.
func (r *Registry) Register(ctx context.Context, req domain.RegisterRequest) (domain.Subscription, error) {
	target, err := r.validateURL(req.URL)
	if err != nil {
		return domain.Subscription{}, err
	}

	eventTypes, err := r.validateEventTypes(req.EventTypes)
	if err != nil {
		return domain.Subscription{}, err
	}

	secret := req.Secret
	if secret == "" {
		secret, err = generateSecret()
		if err != nil {
			return domain.Subscription{}, fmt.Errorf("generating secret: %w", err)
		}
	} else if strings.TrimSpace(secret) == "" || len(secret) < MinSecretLength {
		return domain.Subscription{}, fmt.Errorf("%w: secret must be at least %d non-blank bytes", domain.ErrInvalidSubscription, MinSecretLength)
	}

	sub := domain.Subscription{
		ID:         uuid.NewString(),
		URL:        target,
		EventTypes: eventTypes,
		Secret:     secret,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}

	if r.store != nil {
		if err := r.store.SaveSubscription(ctx, sub); err != nil {
			return domain.Subscription{}, fmt.Errorf("persisting subscription: %w", err)
		}
	}

	r.mu.Lock()
	stored := sub
	stored.EventTypes = append([]string(nil), eventTypes...)
	r.subs[sub.ID] = &stored
	r.order = append(r.order, sub.ID)
	r.mu.Unlock()

	r.logger.Info("subscription registered",
		"subscription_id", sub.ID,
		"url", sub.URL,
		"event_types", sub.EventTypes,
	)

	return sub, nil
}

// Revoke deactivates a subscription. Revoking twice is a no-op.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	r.mu.RLock()
	sub, ok := r.subs[id]
	active := ok && sub.Active
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	if !active {
		return nil
	}

	now := time.Now().UTC()
	if r.store != nil {
		if err := r.store.RevokeSubscription(ctx, id, now); err != nil {
			return fmt.Errorf("persisting revocation: %w", err)
		}
	}

	r.mu.Lock()
	if sub.Active {
		sub.Active = false
		sub.RevokedAt = &now
	}
	r.mu.Unlock()

	r.logger.Info("subscription revoked", "subscription_id", id)
	return nil
}

// List returns redacted subscriptions in creation order.
func (r *Registry) List(activeOnly bool) []domain.SubscriptionView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]domain.SubscriptionView, 0, len(r.order))
	for _, id := range r.order {
		sub := r.subs[id]
		if activeOnly && !sub.Active {
			continue
		}
		views = append(views, sub.View())
	}
	return views
}

// Get returns the redacted view of one subscription.
func (r *Registry) Get(id string) (domain.SubscriptionView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return domain.SubscriptionView{}, fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	return sub.View(), nil
}

// Lookup returns the full subscription, secret included, whether or not it
// is still active. Only the delivery path should call it.
func (r *Registry) Lookup(id string) (domain.Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return domain.Subscription{}, false
	}
	out := *sub
	out.EventTypes = append([]string(nil), sub.EventTypes...)
	return out, true
}

// Matching returns the ids of active subscriptions interested in eventType.
func (r *Registry) Matching(eventType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, id := range r.order {
		sub := r.subs[id]
		if sub.Active && domain.MatchAny(sub.EventTypes, eventType) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ValidPattern reports whether pattern is a known event type or a wildcard
// over a known family.
func (r *Registry) ValidPattern(pattern string) bool {
	if pattern == "*" {
		return true
	}
	if family, ok := strings.CutSuffix(pattern, ".*"); ok {
		_, known := r.families[family]
		return known
	}
	_, known := r.types[pattern]
	return known
}

// EventTypes returns the vocabulary, sorted.
func (r *Registry) EventTypes() []string {
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", domain.ErrInvalidSubscription)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed url: %v", domain.ErrInvalidSubscription, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: url must be absolute", domain.ErrInvalidSubscription)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: url scheme must be http or https", domain.ErrInvalidSubscription)
	}
	return u.String(), nil
}

func (r *Registry) validateEventTypes(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !r.ValidPattern(t) {
			return nil, fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidSubscription, t)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one event type is required", domain.ErrInvalidSubscription)
	}
	return out, nil
}

func generateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(bytes), nil
}
