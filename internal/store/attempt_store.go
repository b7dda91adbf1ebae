package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
)

// ArchiveStats aggregates archived delivery attempts.
type ArchiveStats struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Delivered    int     `json:"delivered"`
	Failed       int     `json:"failed"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// ArchiveAttempt upserts the latest state of an attempt. Terminal rows are
// never overwritten.
func (s *PostgresStore) ArchiveAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_attempts (
			id, subscription_id, event_id, event_type, state, attempts, max_attempts,
			last_status_code, last_error, latency_ms, next_retry_at, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			last_status_code = EXCLUDED.last_status_code,
			last_error = EXCLUDED.last_error,
			latency_ms = EXCLUDED.latency_ms,
			next_retry_at = EXCLUDED.next_retry_at,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at
		WHERE delivery_attempts.state NOT IN ('delivered', 'failed')
	`,
		a.ID, a.SubscriptionID, a.EventID, a.EventType, string(a.State), a.Attempts, a.MaxAttempts,
		a.LastStatusCode, a.LastError, a.LatencyMs, a.NextRetryAt, a.CreatedAt, a.UpdatedAt, a.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("archiving delivery attempt: %w", err)
	}
	return nil
}

// ListArchivedAttempts returns archived attempts for a subscription, most
// recent first.
func (s *PostgresStore) ListArchivedAttempts(ctx context.Context, subscriptionID string, limit int) ([]domain.DeliveryAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, event_id, event_type, state, attempts, max_attempts,
			last_status_code, last_error, latency_ms, next_retry_at, created_at, updated_at, completed_at
		FROM delivery_attempts
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying delivery attempts: %w", err)
	}
	defer rows.Close()

	attempts := []domain.DeliveryAttempt{}
	for rows.Next() {
		var a domain.DeliveryAttempt
		var state string
		err := rows.Scan(
			&a.ID, &a.SubscriptionID, &a.EventID, &a.EventType, &state, &a.Attempts, &a.MaxAttempts,
			&a.LastStatusCode, &a.LastError, &a.LatencyMs, &a.NextRetryAt, &a.CreatedAt, &a.UpdatedAt, &a.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery attempt: %w", err)
		}
		a.State = domain.DeliveryState(state)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery attempts: %w", err)
	}

	return attempts, nil
}

// PruneDeliveryAttempts deletes finished attempts last updated before cutoff.
func (s *PostgresStore) PruneDeliveryAttempts(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM delivery_attempts
		WHERE state IN ('delivered', 'failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning delivery attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetArchiveStats summarizes the archive for the dashboard.
func (s *PostgresStore) GetArchiveStats(ctx context.Context) (*ArchiveStats, error) {
	var st ArchiveStats

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE state IN ('pending', 'in_flight')) AS pending,
			COUNT(*) FILTER (WHERE state = 'delivered') AS delivered,
			COUNT(*) FILTER (WHERE state = 'failed') AS failed,
			COALESCE(AVG(latency_ms) FILTER (WHERE latency_ms > 0), 0) AS avg_latency_ms
		FROM delivery_attempts
	`).Scan(&st.Total, &st.Pending, &st.Delivered, &st.Failed, &st.AvgLatencyMs)
	if err != nil {
		return nil, fmt.Errorf("querying archive stats: %w", err)
	}

	if finished := st.Delivered + st.Failed; finished > 0 {
		st.SuccessRate = float64(st.Delivered) / float64(finished) * 100
	}

	return &st, nil
}
