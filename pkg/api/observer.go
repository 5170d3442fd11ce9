package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay run execution.
type Observer interface {
	// OnRunStart is called once when a run begins, before the root node
	// executes.
	OnRunStart(ctx context.Context, rec *RunRecord)

	// OnRunCompleted is called when a run reaches StatusCompleted.
	OnRunCompleted(ctx context.Context, rec *RunRecord)

	// OnRunFailed is called when a run transitions to StatusFailed.
	OnRunFailed(ctx context.Context, rec *RunRecord, err error)

	// OnRunCancelled is called when cooperative cancellation finalizes a
	// run with StatusCancelled.
	OnRunCancelled(ctx context.Context, rec *RunRecord)

	// OnNodeStart is called before a node executes.
	OnNodeStart(ctx context.Context, rec *RunRecord, node string, kind NodeKind)

	// OnNodeCompleted is called after a node returns, for both successes
	// and failures.
	OnNodeCompleted(ctx context.Context, rec *RunRecord, node string, kind NodeKind, out StepOutput, duration time.Duration)
}

// NoopObserver is an Observer that does nothing. It is the default when no
// observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, rec *RunRecord)                {}
func (NoopObserver) OnRunCompleted(ctx context.Context, rec *RunRecord)            {}
func (NoopObserver) OnRunFailed(ctx context.Context, rec *RunRecord, err error)    {}
func (NoopObserver) OnRunCancelled(ctx context.Context, rec *RunRecord)            {}
func (NoopObserver) OnNodeStart(ctx context.Context, rec *RunRecord, node string, kind NodeKind) {
}
func (NoopObserver) OnNodeCompleted(ctx context.Context, rec *RunRecord, node string, kind NodeKind, out StepOutput, d time.Duration) {
}

// CompositeObserver fans out callbacks to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards callbacks to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, rec *RunRecord) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, rec)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, rec *RunRecord) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, rec)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, rec *RunRecord, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, rec, err)
	}
}

func (c *CompositeObserver) OnRunCancelled(ctx context.Context, rec *RunRecord) {
	for _, o := range c.observers {
		o.OnRunCancelled(ctx, rec)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, rec *RunRecord, node string, kind NodeKind) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, rec, node, kind)
	}
}

func (c *CompositeObserver) OnNodeCompleted(ctx context.Context, rec *RunRecord, node string, kind NodeKind, out StepOutput, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeCompleted(ctx, rec, node, kind, out, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / node lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, rec *RunRecord) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("pipeline", rec.Pipeline),
		slog.String("run_id", rec.ID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, rec *RunRecord) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("pipeline", rec.Pipeline),
		slog.String("run_id", rec.ID),
		slog.Int("steps", len(rec.StepResults)),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, rec *RunRecord, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("pipeline", rec.Pipeline),
		slog.String("run_id", rec.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRunCancelled(ctx context.Context, rec *RunRecord) {
	o.Logger.WarnContext(ctx, "run_cancelled",
		slog.String("pipeline", rec.Pipeline),
		slog.String("run_id", rec.ID),
		slog.Int("steps", len(rec.StepResults)),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, rec *RunRecord, node string, kind NodeKind) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("pipeline", rec.Pipeline),
		slog.String("run_id", rec.ID),
		slog.String("node", node),
		slog.String("kind", string(kind)),
	)
}

func (o *LoggingObserver) OnNodeCompleted(ctx context.Context, rec *RunRecord, node string, kind NodeKind, out StepOutput, d time.Duration) {
	level := slog.LevelDebug
	if !out.Success() {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "node_completed",
		slog.String("pipeline", rec.Pipeline),
		slog.String("run_id", rec.ID),
		slog.String("node", node),
		slog.String("kind", string(kind)),
		slog.Duration("duration", d),
		slog.String("error", out.Err),
	)
}

// BasicMetrics collects simple counters and aggregate node durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	runsCancelled     atomic.Int64
	nodesCompleted    atomic.Int64
	totalNodeDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsCancelled int64
	RunsInFlight  int64

	NodesCompleted  int64
	AvgNodeDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, rec *RunRecord) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, rec *RunRecord) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, rec *RunRecord, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnRunCancelled(ctx context.Context, rec *RunRecord) {
	m.runsCancelled.Add(1)
}

func (m *BasicMetrics) OnNodeCompleted(ctx context.Context, rec *RunRecord, node string, kind NodeKind, out StepOutput, d time.Duration) {
	// Only count successful nodes for average duration.
	if out.Success() {
		m.nodesCompleted.Add(1)
		m.totalNodeDuration.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	cancelled := m.runsCancelled.Load()
	nodes := m.nodesCompleted.Load()
	totalNs := m.totalNodeDuration.Load()

	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(totalNs / nodes)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		RunsCancelled:   cancelled,
		RunsInFlight:    started - completed - failed - cancelled,
		NodesCompleted:  nodes,
		AvgNodeDuration: avg,
	}
}
