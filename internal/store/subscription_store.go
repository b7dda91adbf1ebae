package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
)

func (s *PostgresStore) SaveSubscription(ctx context.Context, sub domain.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, url, event_types, secret, active, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET url = EXCLUDED.url,
			event_types = EXCLUDED.event_types,
			active = EXCLUDED.active,
			revoked_at = EXCLUDED.revoked_at
	`, sub.ID, sub.URL, sub.EventTypes, sub.Secret, sub.Active, sub.CreatedAt, sub.RevokedAt)
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

// RevokeSubscription deactivates a subscription, keeping the first
// revocation time.
func (s *PostgresStore) RevokeSubscription(ctx context.Context, id string, revokedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET active = FALSE, revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id, revokedAt)
	if err != nil {
		return fmt.Errorf("revoking subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) LoadSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, event_types, secret, active, created_at, revoked_at
		FROM subscriptions
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		err := rows.Scan(
			&sub.ID, &sub.URL, &sub.EventTypes, &sub.Secret,
			&sub.Active, &sub.CreatedAt, &sub.RevokedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}

	return subs, nil
}
