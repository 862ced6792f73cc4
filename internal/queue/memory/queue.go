// Package memory provides a bounded in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

// Queue is a bounded in-memory queue with context-aware operations. Jobs
// still buffered when the queue closes are dropped.
type Queue struct {
	ch        chan collector.JobRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan collector.JobRequest, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job, blocking while the queue is full until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, job collector.JobRequest) error {
	select {
	case <-q.done:
		return collector.ErrQueueClosed
	default:
	}
	select {
	case q.ch <- job:
		return nil
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return collector.ErrQueueClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (collector.JobRequest, error) {
	select {
	case <-ctx.Done():
		return collector.JobRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return collector.JobRequest{}, collector.ErrQueueClosed
	case job := <-q.ch:
		return job, nil
	}
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
