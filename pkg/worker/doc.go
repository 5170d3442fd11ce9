// Package worker provides the background worker implementation used to
// drive weft pipeline runs forward.
//
// Workers consume run tasks from a task queue and execute the matching
// pending runs through an engine. They are designed to be lightweight and
// easy to embed in existing services, and they can be scaled horizontally
// for higher throughput: multiple workers can safely operate on the same
// queue.
//
// A worker is responsible for:
//
//   - Polling a task queue for pending runs
//   - Dispatching each run to the engine that created it
//   - Moving on after a failed run (the outcome lives in the run record)
//
// Workers are decoupled from any particular persistence backend. They rely
// on the engine and task queue interfaces only, so in-memory, SQLite and
// Redis deployments all reuse the same worker.
//
// Most applications construct workers via helper functions in the weft
// package, which wire engines, queues and observers together with sensible
// defaults. The worker package is useful when implementing custom worker
// behavior or new queue backends.
package worker
