// Package api contains the core building blocks used by the weft pipeline
// engine. It provides the low-level primitives for defining pipelines,
// composing control flow, and observing engine behavior.
//
// Most users interact with the higher-level weft package, which re-exports
// selected types and helpers from this package. The api package is intended
// for advanced use cases, custom integrations, or contributors extending
// the engine itself.
//
// # Concepts
//
// The api package centers around a small set of concepts:
//
//   - Pipeline definitions and node trees
//   - Executors and the StepInput / StepOutput contract
//   - Control-flow composition
//   - Events and observability
//
// # Pipeline Definitions
//
// A pipeline definition describes a pipeline as an immutable tree of named
// nodes: leaves bound to exactly one executor, and composites applying one
// control-flow policy (sequence, parallel fan-out, condition, bounded loop,
// dynamic router, named group) to their children. Definitions are validated
// and registered with an engine before they can be run; the same definition
// is shared across all of its runs.
//
// # Executors
//
// An executor is an opaque unit of work: a plain function, an external
// agent, or a multi-agent team. Adapters normalize the three call
// conventions into one contract,
//
//	Invoke(ctx, StepInput) StepOutput
//
// with a streaming variant yielding incremental chunks followed by exactly
// one terminal StepOutput. Executor errors are captured into the output and
// never escape the adapter boundary.
//
// # Control Flow
//
// Sequence and Loop are strictly ordered; Parallel fans its children out
// concurrently and merges their outputs deterministically by declared name
// at fan-in. A StepOutput with Stop set ends the whole run early, and
// cancellation is cooperative: it is observed at node boundaries, never
// mid-node.
//
// # Events
//
// Every run produces one ordered event stream: envelope events framing each
// node plus composite-specific envelopes, with raw executor chunks
// interleaved between a node's started and completed envelopes. Observers
// provide a callback-style view of the same lifecycle for logging and
// metrics.
package api
