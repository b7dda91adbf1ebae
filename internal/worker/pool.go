package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Priya8975/webhook-stream-engine/internal/queue"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Pool manages a fixed number of worker goroutines that process delivery jobs.
type Pool struct {
	numWorkers int
	jobs       chan queue.Job
	quit       chan struct{}
	deliverer  *Deliverer
	logger     *slog.Logger
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewPool creates a worker pool with the given number of workers. The job
// channel is unbuffered, so Submit blocks while every worker is busy.
func NewPool(numWorkers int, deliverer *Deliverer, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan queue.Job),
		quit:       make(chan struct{}),
		deliverer:  deliverer,
		logger:     logger,
	}
}

// Start launches all worker goroutines. Workers stop taking new jobs once
// ctx is cancelled; a call already running finishes within its own timeout.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands a job to the next free worker, waiting until one is free or
// ctx is done.
func (p *Pool) Submit(ctx context.Context, job queue.Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// Size returns the configured concurrency.
func (p *Pool) Size() int {
	return p.numWorkers
}

// Stop signals all workers to exit and waits for them to finish their
// current job.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	callCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case job := <-p.jobs:
			p.deliverer.Deliver(callCtx, job)
		}
	}
}
