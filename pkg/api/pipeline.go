package api

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// InputSchema validates and optionally coerces the raw primary input
// before the root node executes. It is an external collaborator; the
// engine only calls it once at run start.
type InputSchema interface {
	ValidateInput(input any) (any, error)
}

// SchemaFunc adapts a plain function to InputSchema.
type SchemaFunc func(input any) (any, error)

func (f SchemaFunc) ValidateInput(input any) (any, error) {
	return f(input)
}

// RequireKeys returns an InputSchema that accepts only map[string]any
// inputs containing every listed key.
func RequireKeys(keys ...string) InputSchema {
	return SchemaFunc(func(input any) (any, error) {
		m, ok := input.(map[string]any)
		if !ok {
			return nil, errors.New("input must be a map")
		}
		for _, k := range keys {
			if _, ok := m[k]; !ok {
				return nil, errors.New("input missing required key: " + k)
			}
		}
		return m, nil
	})
}

// PipelineDefinition describes a pipeline as an immutable node tree.
// Definitions are registered once and shared across runs.
type PipelineDefinition struct {
	Name        string
	Description string

	// Root is the pipeline body, an implicit top-level Sequence.
	Root *Node

	// Schema, if set, validates the primary input at run start.
	Schema InputSchema

	// InitialState seeds the session state for runs without a session,
	// and fills missing keys for runs that have one.
	InitialState map[string]any
}

// Validate checks the definition and its node tree.
func (d PipelineDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("pipeline name is required")
	}
	if d.Root == nil {
		return errors.New("pipeline must have a root node")
	}
	return d.Root.Validate()
}

// RunRecord holds the observable state of one run. It is created when the
// run starts, mutated only by the engine, and immutable once Status is
// terminal.
type RunRecord struct {
	ID        string
	Pipeline  string
	SessionID string
	Status    Status

	// Input is the validated primary input the run started with.
	Input any

	// Extra is the caller-supplied additional-data map. It is persisted
	// with the record so background workers hand every node the same
	// StepInput a synchronous run would.
	Extra map[string]any

	// Content is the final output content once the run completes.
	Content any

	// StepResults is the ordered per-node output trace. Append order is
	// declaration order for Sequence and Loop; Parallel children are
	// appended in declaration order at fan-in regardless of completion
	// order.
	StepResults []StepOutput

	// Err describes the failure for StatusFailed runs.
	Err string

	CreatedAt   time.Time
	CompletedAt time.Time
}

// HasCompleted reports whether the run reached a terminal status.
func (r *RunRecord) HasCompleted() bool {
	return r.Status.Terminal()
}

// RunListOptions filters ListRuns. Zero values mean "no filter".
type RunListOptions struct {
	// Pipeline, if non-empty, limits results to runs of the given pipeline.
	Pipeline string

	// Status, if non-empty, limits results to runs with the given status.
	Status Status
}
