package taskqueue

import (
	"context"
	"errors"
)

const defaultQueueCapacity = 1024

// ErrQueueFull is returned by TryEnqueue when the queue has no room left.
var ErrQueueFull = errors.New("taskqueue: queue is full")

// InMemoryQueue delivers tasks over a buffered channel in FIFO order.
// Tasks are lost on process exit, so it suits tests and single-process
// runners; durable deployments use the SQLite queue instead.
type InMemoryQueue struct {
	tasks chan Task
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a queue holding at most capacity pending tasks.
// A non-positive capacity falls back to a default suitable for tests.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &InMemoryQueue{
		tasks: make(chan Task, capacity),
	}
}

// Enqueue blocks until the task is buffered or ctx is cancelled.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	select {
	case q.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue buffers the task without blocking, returning ErrQueueFull
// when no room is left.
func (q *InMemoryQueue) TryEnqueue(t Task) error {
	select {
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a task is available or ctx is cancelled.
func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.tasks:
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of buffered tasks. The value is a snapshot and
// may be stale by the time the caller acts on it.
func (q *InMemoryQueue) Len() int {
	return len(q.tasks)
}
