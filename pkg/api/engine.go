package api

import "context"

// RunOptions carries per-run settings.
type RunOptions struct {
	// SessionID scopes the shared session state. Runs with the same
	// session ID see each other's state mutations.
	SessionID string

	// Extra is an arbitrary additional-data map made visible to every
	// node through StepInput.Extra.
	Extra map[string]any
}

// RunOption configures a single run.
type RunOption func(*RunOptions)

// WithSessionID attaches the run to a session.
func WithSessionID(id string) RunOption {
	return func(o *RunOptions) { o.SessionID = id }
}

// WithExtra sets the additional-data map passed to every node.
func WithExtra(extra map[string]any) RunOption {
	return func(o *RunOptions) { o.Extra = extra }
}

// Engine is the caller-facing orchestration API.
type Engine interface {
	// RegisterPipeline registers a definition by name. The definition is
	// validated (including router-target acyclicity) before acceptance.
	RegisterPipeline(def PipelineDefinition) error

	// Run executes the pipeline to completion synchronously and returns
	// its RunRecord. A failed run returns the record together with the
	// halting error.
	Run(ctx context.Context, pipeline string, input any, opts ...RunOption) (*RunRecord, error)

	// RunStream starts a run and returns its ordered event stream. The
	// channel closes after the terminal run event; the final record is
	// available through GetRun.
	RunStream(ctx context.Context, pipeline string, input any, opts ...RunOption) (<-chan Event, error)

	// Start launches a background run. It returns immediately with a
	// pending RunRecord; callers poll GetRun until HasCompleted. Engines
	// without a configured store and queue return ErrBackgroundUnsupported.
	Start(ctx context.Context, pipeline string, input any, opts ...RunOption) (*RunRecord, error)

	// GetRun looks up a run by ID. Returns ErrRunNotFound if unknown.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns runs matching the given options.
	ListRuns(ctx context.Context, opts RunListOptions) ([]*RunRecord, error)

	// CancelRun requests cooperative cancellation of a run. It returns
	// true if the request was accepted (the run was still in flight);
	// false if the run had already reached a terminal status. The flag is
	// honored at node boundaries only, never mid-node.
	CancelRun(ctx context.Context, runID string) (bool, error)

	// ListEvents returns the retained event log of a run in order.
	ListEvents(ctx context.Context, runID string) ([]Event, error)
}

// RunnerDirect is implemented by engines to let workers execute an already
// created pending run without re-enqueueing it.
type RunnerDirect interface {
	// RunPending executes a run previously created by Start.
	RunPending(ctx context.Context, runID string) (*RunRecord, error)
}
