package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
	"github.com/Priya8975/webhook-stream-engine/internal/ledger"
	"github.com/Priya8975/webhook-stream-engine/internal/metrics"
	"github.com/Priya8975/webhook-stream-engine/internal/queue"
	"github.com/google/uuid"
)

// attemptNamespace scopes deterministic delivery attempt ids.
var attemptNamespace = uuid.MustParse("6f1c7d1e-8a0b-4f3e-9b55-3c8e2d7a4f10")

// AttemptID derives the delivery attempt id for one (subscription, event) pair.
func AttemptID(subscriptionID, eventID string) string {
	return uuid.NewSHA1(attemptNamespace, []byte(subscriptionID+"/"+eventID)).String()
}

// AttemptRecorder is the ledger surface the scheduler writes to. Create must
// fail with ledger.ErrExists when the attempt is already held.
type AttemptRecorder interface {
	Create(attempt domain.DeliveryAttempt) error
	Record(attempt domain.DeliveryAttempt) error
}

// SubscriptionMatcher resolves the active subscriptions for an event type.
type SubscriptionMatcher interface {
	Matching(eventType string) []string
}

// FanOutEngine creates one pending delivery attempt per matching
// subscription and hands it to the delivery queue.
type FanOutEngine struct {
	subs    SubscriptionMatcher
	ledger  AttemptRecorder
	queue   queue.Queue
	policy  RetryPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewFanOutEngine(subs SubscriptionMatcher, ledger AttemptRecorder, q queue.Queue, policy RetryPolicy, m *metrics.Metrics, logger *slog.Logger) *FanOutEngine {
	return &FanOutEngine{
		subs:    subs,
		ledger:  ledger,
		queue:   q,
		policy:  policy,
		metrics: m,
		logger:  logger,
	}
}

// FanOut schedules deliveries for event and returns how many were created.
// It never waits for a delivery to run. A re-ingested event whose attempt
// is still in the ledger is not scheduled twice.
func (f *FanOutEngine) FanOut(ctx context.Context, event domain.Event) (int, error) {
	ids := f.subs.Matching(event.Type)
	if len(ids) == 0 {
		f.logger.Info("no matching subscriptions", "event_id", event.ID, "event_type", event.Type)
		return 0, nil
	}

	var errs []error
	scheduled := 0
	for _, subID := range ids {
		attemptID := AttemptID(subID, event.ID)
		now := time.Now().UTC()
		attempt := domain.DeliveryAttempt{
			ID:             attemptID,
			SubscriptionID: subID,
			EventID:        event.ID,
			EventType:      event.Type,
			State:          domain.StatePending,
			MaxAttempts:    f.policy.MaxAttempts,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := f.ledger.Create(attempt); err != nil {
			if errors.Is(err, ledger.ErrExists) {
				f.logger.Warn("duplicate event ignored",
					"event_id", event.ID,
					"subscription_id", subID,
					"attempt_id", attemptID,
				)
				continue
			}
			errs = append(errs, fmt.Errorf("recording attempt %s: %w", attemptID, err))
			continue
		}

		if err := f.queue.Push(ctx, queue.Job{Attempt: attempt, Event: event}, now); err != nil {
			errs = append(errs, fmt.Errorf("queuing attempt %s: %w", attemptID, err))
			f.abandon(attempt, err)
			continue
		}

		f.metrics.AttemptScheduled()
		scheduled++
	}

	f.logger.Info("fan-out complete",
		"event_id", event.ID,
		"event_type", event.Type,
		"deliveries_scheduled", scheduled,
	)

	return scheduled, errors.Join(errs...)
}

// abandon marks an attempt that never reached the queue as failed so the
// ledger does not report it pending forever.
func (f *FanOutEngine) abandon(attempt domain.DeliveryAttempt, cause error) {
	now := time.Now().UTC()
	attempt.State = domain.StateFailed
	attempt.LastError = "enqueue: " + cause.Error()
	attempt.UpdatedAt = now
	attempt.CompletedAt = &now

	if err := f.ledger.Record(attempt); err != nil {
		f.logger.Error("failed to record abandoned attempt", "attempt_id", attempt.ID, "error", err)
	}
	f.metrics.DeliveryFinished(string(domain.StateFailed))
}
