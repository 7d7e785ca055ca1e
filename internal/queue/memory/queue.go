// Package memory provides queue implementations for local development and
// tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/curatorhq/curator/internal/content"
	"github.com/curatorhq/curator/internal/metrics"
)

// Queue is a set of bounded in-memory named queues with context-aware
// operations.
type Queue struct {
	mu       sync.Mutex
	capacity int
	queues   map[string]chan content.Job
	closed   bool
}

// NewQueue constructs named queues with the provided per-queue capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		capacity: capacity,
		queues:   make(map[string]chan content.Job),
	}
}

func (q *Queue) channel(name string) chan content.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if name == "" {
		name = content.QueueDefault
	}
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan content.Job, q.capacity)
		q.queues[name] = ch
	}
	return ch
}

// Enqueue pushes a job into its named queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job content.Job) error {
	ch := q.channel(job.Queue)
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case ch <- job:
		metrics.SetQueueDepth(job.Queue, len(ch))
		return nil
	}
}

// Dequeue pops the next job from the named queue, respecting context
// cancellation.
func (q *Queue) Dequeue(ctx context.Context, queue string) (content.Job, error) {
	ch := q.channel(queue)
	select {
	case <-ctx.Done():
		return content.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-ch:
		if !ok {
			return content.Job{}, errors.New("queue closed")
		}
		metrics.SetQueueDepth(queue, len(ch))
		return job, nil
	}
}

// Len reports the current depth of a named queue.
func (q *Queue) Len(queue string) int {
	return len(q.channel(queue))
}

// Close closes all underlying channels for shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for _, ch := range q.queues {
		close(ch)
	}
	q.closed = true
}
