package api

import "time"

// EventType identifies an envelope or executor event on the run stream.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunCancelled EventType = "run.cancelled"

	EventNodeStarted   EventType = "node.started"
	EventNodeCompleted EventType = "node.completed"

	EventParallelStarted   EventType = "parallel.started"
	EventParallelCompleted EventType = "parallel.completed"

	EventLoopIterationStarted   EventType = "loop.iteration.started"
	EventLoopIterationCompleted EventType = "loop.iteration.completed"

	// EventLoopLimit is emitted when a loop exits because it reached its
	// iteration bound without the end condition returning true.
	EventLoopLimit EventType = "loop.limit"

	EventConditionEvaluated EventType = "condition.evaluated"
	EventRouterSelected     EventType = "router.selected"

	// EventExecutorChunk carries one incremental content chunk from a
	// streaming executor, interleaved between the owning node's started
	// and completed envelopes.
	EventExecutorChunk EventType = "executor.chunk"
)

// Event is one element of a run's ordered event stream. Envelope events
// frame every node; executor chunks appear in producer order between a
// node's started and completed envelopes.
type Event struct {
	RunID string
	Type  EventType
	Node  string
	At    time.Time

	// Content carries chunk payloads and final run content.
	Content any

	// Output is set on node.completed (and run terminal events when a
	// final output exists).
	Output *StepOutput

	// Detail is a small human-oriented annotation: the branch taken, the
	// selected choice names, an error string. Keep it low-volume.
	Detail string

	// Iteration is the 1-based loop iteration for loop.* events.
	Iteration int
}

// IsContent reports whether the event carries consumable content (an
// executor chunk or a node's final output).
func (e Event) IsContent() bool {
	return e.Type == EventExecutorChunk || e.Type == EventNodeCompleted
}

// FilterContent narrows a run stream to content-carrying events. The
// returned channel closes when the source closes.
func FilterContent(events <-chan Event) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for ev := range events {
			if ev.IsContent() {
				out <- ev
			}
		}
	}()
	return out
}
