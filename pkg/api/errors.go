package api

import (
	"errors"
	"fmt"
)

var (
	// ErrPipelineNotFound is returned when no pipeline with the given
	// name is registered.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrRunNotFound is returned when a run ID is unknown.
	ErrRunNotFound = errors.New("run not found")

	// ErrBackgroundUnsupported is returned by Start when the engine has
	// no persistent store/queue configured: without one, no run ID can
	// outlive the synchronous call.
	ErrBackgroundUnsupported = errors.New("background runs require a configured store and queue")
)

// ValidationError reports that the primary input failed the pipeline's
// schema check. The run never starts.
type ValidationError struct {
	Pipeline string
	Reason   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("input validation failed for pipeline %q: %v", e.Pipeline, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// ExecutionError reports that a node's executor failed. The run halts at
// that node under the default halt-on-error policy; the partial step
// results up to and including the failing node are retained.
type ExecutionError struct {
	Node   string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node %q failed: %s", e.Node, e.Reason)
}

// CancelledError reports that cooperative cancellation was observed at a
// node boundary. The run ends with StatusCancelled and its partial step
// results retained.
type CancelledError struct {
	RunID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run %s cancelled", e.RunID)
}

// IsCancelled reports whether err is a cooperative-cancellation error.
func IsCancelled(err error) bool {
	var c *CancelledError
	return errors.As(err, &c)
}

// MetaIterationLimit is the StepOutput metadata key set on a loop's output
// when it exited at its iteration bound with the end condition still
// unsatisfied. The run completes normally; callers that care about quality
// can inspect the flag.
const MetaIterationLimit = "iteration_limit"
