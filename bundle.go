package weft

import (
	"database/sql"

	"github.com/mvektor/weft/internal/engine"
	"github.com/mvektor/weft/internal/persistence"
	"github.com/mvektor/weft/internal/taskqueue"
	workerpkg "github.com/mvektor/weft/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes run tasks from that queue.
//
// For now, we only provide a SQLite-backed bundle.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo
// sharing the same SQLite database. Run records, session state, event
// history and queued tasks are all persisted in the provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:weft.db?_journal=WAL")
//	bundle, err := weft.NewSQLiteBundle(db, nil)
//	// register pipelines on bundle.Engine
//	// launch background runs via bundle.Engine.Start
//	// drive them with bundle.Worker.RunLoop(ctx)
func NewSQLiteBundle(db *sql.DB, obs Observer) (*WorkerBundle, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{Runs: store, Sessions: store, Events: events},
		Queue:       q,
		Observer:    obs,
	})

	w, err := workerpkg.New(eng, q)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine: eng,
		Worker: w,
		queue:  q,
	}, nil
}
