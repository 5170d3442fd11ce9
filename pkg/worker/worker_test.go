package worker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/mvektor/weft/internal/engine"
	"github.com/mvektor/weft/internal/persistence"
	"github.com/mvektor/weft/internal/taskqueue"
	"github.com/mvektor/weft/pkg/api"
)

type engineFactory func(t *testing.T, q taskqueue.Queue) api.Engine

func inMemoryEngine(t *testing.T, q taskqueue.Queue) api.Engine {
	t.Helper()
	mem := persistence.NewInMemoryStore()
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{Runs: mem, Sessions: mem, Events: mem},
		Queue:       q,
	})
}

func sqliteEngine(t *testing.T, q taskqueue.Queue) api.Engine {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore failed: %v", err)
	}
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{Runs: store, Sessions: store, Events: events},
		Queue:       q,
	})
}

func addOnePipeline() api.PipelineDefinition {
	return api.PipelineDefinition{
		Name: "async-add",
		Root: api.FuncStep("add-one", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
			n := in.Input.(int)
			return api.StepOutput{Content: n + 1}, nil
		}),
	}
}

func TestWorker_ProcessesPendingRuns(t *testing.T) {
	factories := map[string]engineFactory{
		"in-memory": inMemoryEngine,
		"sqlite":    sqliteEngine,
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			queue := taskqueue.NewInMemoryQueue(10)
			eng := factory(t, queue)

			if err := eng.RegisterPipeline(addOnePipeline()); err != nil {
				t.Fatalf("RegisterPipeline failed: %v", err)
			}

			rec, err := eng.Start(ctx, "async-add", 41)
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			if rec.Status != api.StatusPending {
				t.Fatalf("expected pending run after Start, got %s", rec.Status)
			}

			w, err := New(eng, queue)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}

			processed, err := w.ProcessOne(ctx)
			if err != nil {
				t.Fatalf("ProcessOne failed: %v", err)
			}
			if !processed {
				t.Fatalf("expected a task to be processed")
			}

			got, err := eng.GetRun(ctx, rec.ID)
			if err != nil {
				t.Fatalf("GetRun failed: %v", err)
			}
			if got.Status != api.StatusCompleted {
				t.Fatalf("expected completed run, got %s (err=%q)", got.Status, got.Err)
			}
			if got.Content != 42 {
				t.Fatalf("expected content 42, got %v", got.Content)
			}
		})
	}
}

func TestWorker_FailedRunDoesNotFailProcessing(t *testing.T) {
	ctx := context.Background()
	queue := taskqueue.NewInMemoryQueue(10)
	eng := inMemoryEngine(t, queue)

	def := api.PipelineDefinition{
		Name: "always-fails",
		Root: api.FuncStep("boom", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
			return api.StepOutput{}, errors.New("boom")
		}),
	}
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	rec, err := eng.Start(ctx, "always-fails", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	w, err := New(eng, queue)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	processed, err := w.ProcessOne(ctx)
	if !processed {
		t.Fatalf("expected a task to be processed")
	}
	if err == nil {
		t.Fatalf("expected run error to surface from ProcessOne")
	}

	got, err := eng.GetRun(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != api.StatusFailed {
		t.Fatalf("expected failed run, got %s", got.Status)
	}
	if got.Err == "" {
		t.Fatalf("expected run error to be recorded")
	}
}

func TestWorker_UnknownTaskType(t *testing.T) {
	ctx := context.Background()
	queue := taskqueue.NewInMemoryQueue(10)
	eng := inMemoryEngine(t, queue)

	if err := queue.Enqueue(ctx, taskqueue.Task{ID: "t1", Type: "bogus"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	w, err := New(eng, queue)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	processed, err := w.ProcessOne(ctx)
	if !processed {
		t.Fatalf("expected the bogus task to be consumed")
	}
	if err == nil {
		t.Fatalf("expected an error for an unknown task type")
	}
}

func TestWorker_DequeueRespectsContext(t *testing.T) {
	queue := taskqueue.NewInMemoryQueue(10)
	eng := inMemoryEngine(t, queue)

	w, err := New(eng, queue)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processed, err := w.ProcessOne(ctx)
	if processed {
		t.Fatalf("expected no task to be processed on a cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
