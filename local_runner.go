package weft

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/mvektor/weft/internal/engine"
	"github.com/mvektor/weft/internal/persistence"
	"github.com/mvektor/weft/internal/taskqueue"
	"github.com/mvektor/weft/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a
// Worker to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := weft.NewLocalRunner()
//	pipe := weft.NewPipeline("my-pipe").Func(...)
//	pipe.MustRegister(runner.Engine)
//
//	// Synchronous run (no queue/worker involved):
//	rec, err := weft.Run(ctx, runner.Engine, pipe.Name(), input)
//
//	// Background run:
//	_ = runner.StartWorkers(ctx, 2)
//	rec, _ = runner.Engine.Start(ctx, pipe.Name(), input)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory engine used by this runner. Unlike
	// NewInMemoryEngine, it has a queue wired in, so Start works.
	Engine Engine

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker processes run tasks from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine and
// queue. Intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner() *LocalRunner {
	return NewLocalRunnerWithObserver(nil)
}

// NewLocalRunnerWithObserver is NewLocalRunner with an Observer attached to
// the engine.
func NewLocalRunnerWithObserver(obs Observer) *LocalRunner {
	mem := persistence.NewInMemoryStore()
	q := taskqueue.NewInMemoryQueue(1024)
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{Runs: mem, Sessions: mem, Events: mem},
		Queue:       q,
		Observer:    obs,
	})

	w, err := worker.New(eng, q)
	if err != nil {
		// The in-process engine always supports direct execution.
		panic(err)
	}

	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: w,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that continuously
// call Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("weft: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// Keep going so a single bad task doesn't kill the
					// worker loop.
					log.Printf("weft: local runner worker error: %v", err)
					continue
				}
				if !processed {
					continue
				}
			}
		}()
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
