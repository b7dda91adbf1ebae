package domain

import (
	"time"
)

// DeliveryState is the lifecycle state of a delivery attempt.
//
//	pending -> in_flight -> delivered
//	                     -> pending (retry scheduled)
//	                     -> failed
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateInFlight  DeliveryState = "in_flight"
	StateDelivered DeliveryState = "delivered"
	StateFailed    DeliveryState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s DeliveryState) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// DeliveryAttempt is the logical delivery of one event to one subscription.
// Retries reuse the same ID; Attempts counts network calls made so far.
type DeliveryAttempt struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscription_id"`
	EventID        string        `json:"event_id"`
	EventType      string        `json:"event_type"`
	State          DeliveryState `json:"state"`
	Attempts       int           `json:"attempts"`
	MaxAttempts    int           `json:"max_attempts"`
	LastStatusCode *int          `json:"last_status_code,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	LatencyMs      int64         `json:"latency_ms"`
	NextRetryAt    *time.Time    `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// DeliveryStatus aggregates the ledger view of one subscription.
type DeliveryStatus struct {
	SubscriptionID    string           `json:"subscription_id"`
	Total             int              `json:"total"`
	Pending           int              `json:"pending"`
	Delivered         int              `json:"delivered"`
	Failed            int              `json:"failed"`
	MostRecentAttempt *DeliveryAttempt `json:"most_recent_attempt,omitempty"`
	LastDeliveredAt   *time.Time       `json:"last_delivered_at,omitempty"`
}
