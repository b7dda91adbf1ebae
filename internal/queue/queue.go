package queue

import (
	"context"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
)

// Job is one logical delivery attempt waiting for its next network call.
// A job is owned by exactly one place at a time: the queue or one worker.
type Job struct {
	Attempt domain.DeliveryAttempt `json:"attempt"`
	Event   domain.Event           `json:"event"`
}

// Queue holds jobs ordered by the time they become ready.
type Queue interface {
	// Push stores job until readyAt.
	Push(ctx context.Context, job Job, readyAt time.Time) error
	// PopReady removes and returns up to limit jobs whose ready time is <= now.
	PopReady(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// Len returns the number of queued jobs, ready or not.
	Len(ctx context.Context) (int64, error)
}
