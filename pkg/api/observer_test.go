package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestBasicMetricsCounters(t *testing.T) {
	ctx := context.Background()
	rec := &RunRecord{ID: "r1", Pipeline: "p"}

	var m BasicMetrics
	m.OnRunStart(ctx, rec)
	m.OnRunStart(ctx, rec)
	m.OnRunStart(ctx, rec)
	m.OnRunCompleted(ctx, rec)
	m.OnRunFailed(ctx, rec, errors.New("boom"))

	snap := m.Snapshot()
	if snap.RunsStarted != 3 || snap.RunsCompleted != 1 || snap.RunsFailed != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.RunsInFlight != 1 {
		t.Fatalf("RunsInFlight = %d, want 1", snap.RunsInFlight)
	}

	m.OnRunCancelled(ctx, rec)
	snap = m.Snapshot()
	if snap.RunsCancelled != 1 || snap.RunsInFlight != 0 {
		t.Fatalf("after cancel: %+v", snap)
	}
}

func TestBasicMetricsNodeDuration(t *testing.T) {
	ctx := context.Background()
	rec := &RunRecord{ID: "r1", Pipeline: "p"}

	var m BasicMetrics
	m.OnNodeCompleted(ctx, rec, "a", NodeStep, StepOutput{}, 10*time.Millisecond)
	m.OnNodeCompleted(ctx, rec, "b", NodeStep, StepOutput{}, 30*time.Millisecond)
	// Failed nodes do not count toward the average.
	m.OnNodeCompleted(ctx, rec, "c", NodeStep, StepOutput{Err: "boom"}, time.Hour)

	snap := m.Snapshot()
	if snap.NodesCompleted != 2 {
		t.Fatalf("NodesCompleted = %d, want 2", snap.NodesCompleted)
	}
	if snap.AvgNodeDuration != 20*time.Millisecond {
		t.Fatalf("AvgNodeDuration = %v, want 20ms", snap.AvgNodeDuration)
	}
}

func TestCompositeObserverFansOut(t *testing.T) {
	ctx := context.Background()
	rec := &RunRecord{ID: "r1", Pipeline: "p"}

	var a, b BasicMetrics
	combined := NewCompositeObserver(&a, nil, &b)

	combined.OnRunStart(ctx, rec)
	combined.OnRunCompleted(ctx, rec)
	combined.OnNodeCompleted(ctx, rec, "n", NodeStep, StepOutput{}, time.Millisecond)

	for name, m := range map[string]*BasicMetrics{"a": &a, "b": &b} {
		snap := m.Snapshot()
		if snap.RunsStarted != 1 || snap.RunsCompleted != 1 || snap.NodesCompleted != 1 {
			t.Fatalf("observer %s missed callbacks: %+v", name, snap)
		}
	}
}

func TestNewCompositeObserverCollapses(t *testing.T) {
	if _, ok := NewCompositeObserver().(NoopObserver); !ok {
		t.Fatal("empty composite should collapse to NoopObserver")
	}

	var m BasicMetrics
	if NewCompositeObserver(&m, nil) != Observer(&m) {
		t.Fatal("single-observer composite should return the observer itself")
	}
}

func TestLoggingObserverOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)

	ctx := context.Background()
	rec := &RunRecord{ID: "run-42", Pipeline: "greeter"}

	obs.OnRunStart(ctx, rec)
	obs.OnNodeStart(ctx, rec, "hello", NodeStep)
	obs.OnNodeCompleted(ctx, rec, "hello", NodeStep, StepOutput{}, time.Millisecond)
	obs.OnRunCompleted(ctx, rec)

	logs := buf.String()
	for _, want := range []string{"run_start", "node_start", "node_completed", "run_completed", "run-42", "greeter"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("logs missing %q:\n%s", want, logs)
		}
	}

	buf.Reset()
	obs.OnNodeCompleted(ctx, rec, "hello", NodeStep, StepOutput{Err: "boom"}, time.Millisecond)
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Fatalf("failed node should log at error level:\n%s", buf.String())
	}
}

func TestNewLoggingObserverDefaultsLogger(t *testing.T) {
	obs, ok := NewLoggingObserver(nil).(*LoggingObserver)
	if !ok || obs.Logger == nil {
		t.Fatal("nil logger should fall back to slog.Default()")
	}
}
