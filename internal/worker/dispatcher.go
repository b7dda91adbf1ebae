package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/queue"
)

// Dispatcher continuously polls the delivery queue and hands ready jobs to
// the worker pool.
type Dispatcher struct {
	queue        queue.Queue
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
}

// NewDispatcher creates a dispatcher that pulls from q.
func NewDispatcher(q queue.Queue, pool *Pool, pollInterval time.Duration, logger *slog.Logger) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Dispatcher{
		queue:        q,
		pool:         pool,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    pool.Size(),
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started", "poll_interval", d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			// keep draining while full batches come back
			for ctx.Err() == nil {
				if d.poll(ctx) < d.batchSize {
					break
				}
			}
		}
	}
}

// poll moves one batch of ready jobs to the pool and returns its size.
// Jobs that could not be handed over go back to the queue.
func (d *Dispatcher) poll(ctx context.Context) int {
	jobs, err := d.queue.PopReady(ctx, time.Now(), d.batchSize)
	if err != nil {
		d.logger.Error("failed to poll delivery queue", "error", err)
	}

	for i, job := range jobs {
		if err := d.pool.Submit(ctx, job); err != nil {
			d.requeue(jobs[i:])
			return len(jobs)
		}
	}
	return len(jobs)
}

func (d *Dispatcher) requeue(jobs []queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	for _, job := range jobs {
		if err := d.queue.Push(ctx, job, now); err != nil {
			d.logger.Error("failed to return job to queue",
				"attempt_id", job.Attempt.ID,
				"error", err,
			)
		}
	}
	d.logger.Info("returned undispatched jobs to queue", "count", len(jobs))
}
