package taskqueue

import (
	"context"
	"time"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeRunPending asks a worker to execute a run that was created
	// in the pending state by Engine.Start.
	TaskTypeRunPending TaskType = "run-pending"
)

// Task represents a unit of work for a background worker.
type Task struct {
	ID   string
	Type TaskType

	// RunID identifies the pending run to execute.
	RunID string

	// Pipeline is carried for observability; the run record is the
	// source of truth.
	Pipeline string

	EnqueuedAt time.Time
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for
	// cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is
	// available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
