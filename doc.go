// Package weft provides a lightweight, embeddable pipeline orchestration
// engine for Go.
//
// Weft coordinates opaque work units through deterministic control flow. It
// is aimed at backend services that chain model calls, enrichment steps, or
// other content-producing work and need predictable composition without
// heavy infrastructure. It runs fully in Go, supports multiple persistence
// backends, and integrates cleanly into existing codebases.
//
// # Core Concepts
//
// The weft programming model is intentionally small:
//
//  1. Engine
//  2. PipelineBuilder and nodes
//  3. Executor
//  4. Worker
//  5. LocalRunner
//
// # Engine
//
// The Engine registers pipeline definitions, runs them, persists run
// records and session state, and provides APIs to:
//   - run pipelines synchronously or as ordered event streams
//   - launch background runs and poll their records
//   - cancel in-flight runs cooperatively
//   - read run state and event history
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Redis
//
// # Pipelines and Nodes
//
// A pipeline is a tree of nodes built from six primitives: Step, Sequence,
// Parallel, Condition, Loop and Router. PipelineBuilder provides the fluent
// API; the New* node constructors build nested structure. Given the same
// input, registered executors and session state, a pipeline executes its
// nodes in the same order every run. Concurrency inside Parallel never
// reorders the recorded results: they merge in declaration order.
//
// # Executor
//
// An Executor is the unit of opaque work: it receives a StepInput snapshot
// and returns a StepOutput. Plain functions, agents and teams all adapt to
// the same interface, so the engine never inspects what a step actually
// does. Executors talk to each other through output chaining and the shared
// session state.
//
// # Worker and LocalRunner
//
// Background runs are created with Engine.Start and executed by workers
// pulling from a task queue. LocalRunner wires an in-memory engine, queue
// and worker together for single-process use; NewSQLiteBundle does the same
// with everything persisted in one SQLite database.
//
// # Observability
//
// Every run produces an ordered event stream (run, node, parallel, loop,
// condition and router events plus streamed executor chunks). Observers
// receive lifecycle callbacks; LoggingObserver logs them via log/slog and
// BasicMetrics keeps simple counters.
package weft
