package domain

import "time"

// Subscription is a registered webhook endpoint interested in a set of
// event types. Only the Active flag and RevokedAt ever change after creation.
type Subscription struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	EventTypes []string   `json:"event_types"`
	Secret     string     `json:"secret,omitempty"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// SubscriptionView is the redacted form returned by every read operation.
type SubscriptionView struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	EventTypes []string   `json:"event_types"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// View strips the secret.
func (s Subscription) View() SubscriptionView {
	return SubscriptionView{
		ID:         s.ID,
		URL:        s.URL,
		EventTypes: append([]string(nil), s.EventTypes...),
		Active:     s.Active,
		CreatedAt:  s.CreatedAt,
		RevokedAt:  s.RevokedAt,
	}
}

// RegisterRequest asks for a new subscription. An empty Secret is generated.
type RegisterRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Secret     string   `json:"secret,omitempty"`
}
