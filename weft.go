package weft

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/mvektor/weft/internal/engine"
	"github.com/mvektor/weft/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	PipelineDefinition   = api.PipelineDefinition
	Node                 = api.Node
	RunRecord            = api.RunRecord
	RunListOptions       = api.RunListOptions
	RunOption            = api.RunOption
	Status               = api.Status
	StepInput            = api.StepInput
	StepOutput           = api.StepOutput
	Artifact             = api.Artifact
	Event                = api.Event
	EventType            = api.EventType
	Executor             = api.Executor
	StreamingExecutor    = api.StreamingExecutor
	StreamItem           = api.StreamItem
	Agent                = api.Agent
	StreamingAgent       = api.StreamingAgent
	Team                 = api.Team
	StepFunc             = api.StepFunc
	ConditionFunc        = api.ConditionFunc
	EndConditionFunc     = api.EndConditionFunc
	SelectorFunc         = api.SelectorFunc
	InputSchema          = api.InputSchema
	SchemaFunc           = api.SchemaFunc
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	WithSessionID        = api.WithSessionID
	WithExtra            = api.WithExtra
	RequireKeys          = api.RequireKeys
	FilterContent        = api.FilterContent
	IsCancelled          = api.IsCancelled
)

// Re-export sentinel errors.

var (
	ErrPipelineNotFound      = api.ErrPipelineNotFound
	ErrRunNotFound           = api.ErrRunNotFound
	ErrBackgroundUnsupported = api.ErrBackgroundUnsupported
)

// Re-export status values for convenience.

// MetaIterationLimit marks a loop output that exited at its iteration
// bound with the end condition unsatisfied.
const MetaIterationLimit = api.MetaIterationLimit

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusCancelled = api.StatusCancelled
)

// Re-export event types for stream consumers.

const (
	EventRunStarted   = api.EventRunStarted
	EventRunCompleted = api.EventRunCompleted
	EventRunFailed    = api.EventRunFailed
	EventRunCancelled = api.EventRunCancelled

	EventNodeStarted   = api.EventNodeStarted
	EventNodeCompleted = api.EventNodeCompleted

	EventParallelStarted   = api.EventParallelStarted
	EventParallelCompleted = api.EventParallelCompleted

	EventLoopIterationStarted   = api.EventLoopIterationStarted
	EventLoopIterationCompleted = api.EventLoopIterationCompleted
	EventLoopLimit              = api.EventLoopLimit

	EventConditionEvaluated = api.EventConditionEvaluated
	EventRouterSelected     = api.EventRouterSelected

	EventExecutorChunk = api.EventExecutorChunk
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
// Background runs are unsupported; use NewLocalRunner for a single-process
// setup with workers.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists run records, session
// state and event history in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewRedisEngine returns an Engine that persists runs and session state in Redis.
func NewRedisEngine(client *redis.Client) Engine {
	return engine.NewRedisEngine(client)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs Observer) Engine {
	return engine.NewRedisEngineWithObserver(client, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Run runs a registered pipeline synchronously.
func Run(ctx context.Context, eng Engine, pipeline string, input any, opts ...RunOption) (*RunRecord, error) {
	return eng.Run(ctx, pipeline, input, opts...)
}

// RunStream starts a run and returns its ordered event stream.
func RunStream(ctx context.Context, eng Engine, pipeline string, input any, opts ...RunOption) (<-chan Event, error) {
	return eng.RunStream(ctx, pipeline, input, opts...)
}

// GetRun fetches a run record by ID.
func GetRun(ctx context.Context, eng Engine, runID string) (*RunRecord, error) {
	return eng.GetRun(ctx, runID)
}

// ListRuns lists run records according to the given options.
func ListRuns(ctx context.Context, eng Engine, opts RunListOptions) ([]*RunRecord, error) {
	return eng.ListRuns(ctx, opts)
}

// CancelRun requests cooperative cancellation of an in-flight run.
func CancelRun(ctx context.Context, eng Engine, runID string) (bool, error) {
	return eng.CancelRun(ctx, runID)
}
