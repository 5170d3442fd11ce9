package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/mvektor/weft/internal/taskqueue"
	"github.com/mvektor/weft/pkg/api"
)

// Worker pulls run tasks from a Queue and executes them using an Engine.
// The engine must implement api.RunnerDirect; the engines constructed by
// the weft package all do.
type Worker struct {
	engine api.Engine
	runner api.RunnerDirect
	queue  taskqueue.Queue
}

// New creates a new Worker. It returns an error if the engine cannot
// execute pending runs directly.
func New(engine api.Engine, queue taskqueue.Queue) (*Worker, error) {
	runner, ok := engine.(api.RunnerDirect)
	if !ok {
		return nil, errors.New("engine does not support direct run execution")
	}
	return &Worker{
		engine: engine,
		runner: runner,
		queue:  queue,
	}, nil
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err != nil: dequeue failed (typically ctx cancelled)
//   - processed == false, err == nil: no task available
//   - processed == true: a task was processed; err reports the run outcome
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeRunPending:
		_, runErr := w.runner.RunPending(ctx, task.RunID)
		if runErr != nil && !api.IsCancelled(runErr) {
			return true, runErr
		}
		return true, nil

	default:
		return true, fmt.Errorf("unknown task type: %s", task.Type)
	}
}

// RunLoop processes tasks until the context is cancelled. Run failures do
// not stop the loop; a failed run already carries its error in the run
// record, so the loop moves on to the next task.
func (w *Worker) RunLoop(ctx context.Context) error {
	for {
		if _, err := w.ProcessOne(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
		}
	}
}
