package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue backed by a min-heap on ready time.
type MemoryQueue struct {
	mu    sync.Mutex
	items jobHeap
	seq   uint64
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, job Job, readyAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.items, &queuedJob{job: job, readyAt: readyAt, seq: q.seq})
	return nil
}

func (q *MemoryQueue) PopReady(_ context.Context, now time.Time, limit int) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []Job
	for q.items.Len() > 0 && (limit <= 0 || len(jobs) < limit) {
		next := q.items[0]
		if next.readyAt.After(now) {
			break
		}
		heap.Pop(&q.items)
		jobs = append(jobs, next.job)
	}
	return jobs, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.items.Len()), nil
}

type queuedJob struct {
	job     Job
	readyAt time.Time
	seq     uint64
}

// jobHeap orders by ready time, then by push order so equal times stay FIFO.
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].readyAt.Before(h[j].readyAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*queuedJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
