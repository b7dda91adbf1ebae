package queue

import (
	"context"
	"testing"
	"time"

	"github.com/Priya8975/webhook-stream-engine/internal/domain"
)

func job(id string) Job {
	return Job{Attempt: domain.DeliveryAttempt{ID: id}}
}

func TestMemoryQueue_PopsOnlyReadyJobsInOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	q.Push(ctx, job("later"), now.Add(time.Minute))
	q.Push(ctx, job("second"), now.Add(-time.Second))
	q.Push(ctx, job("first"), now.Add(-time.Minute))

	jobs, err := q.PopReady(ctx, now, 10)
	if err != nil {
		t.Fatalf("PopReady: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 ready jobs, got %d", len(jobs))
	}
	if jobs[0].Attempt.ID != "first" || jobs[1].Attempt.ID != "second" {
		t.Errorf("wrong order: %s, %s", jobs[0].Attempt.ID, jobs[1].Attempt.ID)
	}

	if n, _ := q.Len(ctx); n != 1 {
		t.Errorf("expected 1 job left, got %d", n)
	}
}

func TestMemoryQueue_RespectsLimit(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		q.Push(ctx, job(id), now)
	}

	jobs, _ := q.PopReady(ctx, now, 2)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Attempt.ID != "a" || jobs[1].Attempt.ID != "b" {
		t.Errorf("equal ready times should pop FIFO, got %s, %s", jobs[0].Attempt.ID, jobs[1].Attempt.ID)
	}
}

func TestMemoryQueue_EmptyPop(t *testing.T) {
	q := NewMemoryQueue()
	jobs, err := q.PopReady(context.Background(), time.Now(), 5)
	if err != nil {
		t.Fatalf("PopReady: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected no jobs, got %d", len(jobs))
	}
}
