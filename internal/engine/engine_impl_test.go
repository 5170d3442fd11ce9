package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mvektor/weft/internal/persistence"
	"github.com/mvektor/weft/internal/taskqueue"
	"github.com/mvektor/weft/pkg/api"
)

func funcPipeline(name string, root *api.Node) api.PipelineDefinition {
	return api.PipelineDefinition{Name: name, Root: root}
}

func persistenceForTest() persistence.Persistence {
	mem := persistence.NewInMemoryStore()
	return persistence.Persistence{Runs: mem, Sessions: mem, Events: mem}
}

func queueForTest() taskqueue.Queue {
	return taskqueue.NewInMemoryQueue(16)
}

func upperStep(name string) *api.Node {
	return api.FuncStep(name, func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
		s, _ := in.PreviousContent.(string)
		if s == "" {
			s = in.Text()
		}
		return api.StepOutput{Content: strings.ToUpper(s)}, nil
	})
}

func TestSequentialPipelineCompletes(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := funcPipeline("transform", api.NewSequence("transform",
		api.FuncStep("trim", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
			return api.StepOutput{Content: strings.TrimSpace(in.Text())}, nil
		}),
		upperStep("upper"),
		api.FuncStep("wrap", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
			return api.StepOutput{Content: fmt.Sprintf("[%v]", in.PreviousContent)}, nil
		}),
	))

	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	rec, err := eng.Run(ctx, "transform", "  hello  ")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rec.Status != api.StatusCompleted {
		t.Fatalf("expected status %q, got %q", api.StatusCompleted, rec.Status)
	}
	if rec.Content != "[HELLO]" {
		t.Fatalf("unexpected final content: %v", rec.Content)
	}
	if len(rec.StepResults) != 3 {
		t.Fatalf("expected 3 step results, got %d", len(rec.StepResults))
	}

	wantOrder := []string{"trim", "upper", "wrap"}
	for i, res := range rec.StepResults {
		if res.NodeName != wantOrder[i] {
			t.Fatalf("step %d: expected %q, got %q", i, wantOrder[i], res.NodeName)
		}
	}
}

func TestRunDeterminism(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := funcPipeline("det", api.NewSequence("det",
		upperStep("a"),
		upperStep("b"),
		upperStep("c"),
	))
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	var first []string
	for i := 0; i < 5; i++ {
		rec, err := eng.Run(ctx, "det", "x")
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		var order []string
		for _, res := range rec.StepResults {
			order = append(order, res.NodeName)
		}
		if first == nil {
			first = order
			continue
		}
		if len(order) != len(first) {
			t.Fatalf("run %d: result count changed: %v vs %v", i, order, first)
		}
		for j := range order {
			if order[j] != first[j] {
				t.Fatalf("run %d: order diverged at %d: %v vs %v", i, j, order, first)
			}
		}
	}
}

func TestPipelineFailsOnStepError(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := funcPipeline("failing", api.NewSequence("failing",
		upperStep("ok"),
		api.FuncStep("boom", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
			return api.StepOutput{}, errors.New("kaboom")
		}),
		upperStep("never"),
	))
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	rec, err := eng.Run(ctx, "failing", "x")
	if err == nil {
		t.Fatalf("expected an error from a failing run")
	}
	var execErr *api.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %T: %v", err, err)
	}
	if execErr.Node != "boom" {
		t.Fatalf("expected failing node %q, got %q", "boom", execErr.Node)
	}

	if rec.Status != api.StatusFailed {
		t.Fatalf("expected status %q, got %q", api.StatusFailed, rec.Status)
	}
	// Partial results up to and including the failing node are kept.
	if len(rec.StepResults) != 2 {
		t.Fatalf("expected 2 step results, got %d", len(rec.StepResults))
	}
	if rec.StepResults[1].NodeName != "boom" || rec.StepResults[1].Success() {
		t.Fatalf("expected the failing node's result last, got %+v", rec.StepResults[1])
	}
}

func TestStepPanicBecomesFailure(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := funcPipeline("panics", api.FuncStep("explode", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
		panic("unexpected nil")
	}))
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	rec, err := eng.Run(ctx, "panics", nil)
	if err == nil {
		t.Fatalf("expected an error from a panicking step")
	}
	if rec.Status != api.StatusFailed {
		t.Fatalf("expected status %q, got %q", api.StatusFailed, rec.Status)
	}
	if !strings.Contains(rec.Err, "unexpected nil") {
		t.Fatalf("expected the panic message in the run error, got %q", rec.Err)
	}
}

func TestStopSkipsRemainingSteps(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	laterRan := false
	def := funcPipeline("early-exit", api.NewSequence("early-exit",
		api.FuncStep("gate", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
			return api.StepOutput{Content: "cached answer", Stop: true}, nil
		}),
		api.FuncStep("later", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
			laterRan = true
			return api.StepOutput{Content: "fresh answer"}, nil
		}),
	))
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	rec, err := eng.Run(ctx, "early-exit", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.Status != api.StatusCompleted {
		t.Fatalf("early exit should complete normally, got %q", rec.Status)
	}
	if rec.Content != "cached answer" {
		t.Fatalf("expected the stopping step's content, got %v", rec.Content)
	}
	if laterRan {
		t.Fatalf("steps after a stop must not run")
	}
}

func TestRegisterRejectsDuplicatesAndInvalid(t *testing.T) {
	eng := NewInMemoryEngine()

	def := funcPipeline("dup", upperStep("only"))
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("first RegisterPipeline failed: %v", err)
	}
	if err := eng.RegisterPipeline(def); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	if err := eng.RegisterPipeline(api.PipelineDefinition{Name: "no-root"}); err == nil {
		t.Fatalf("expected a pipeline without a root to fail validation")
	}
}

func TestRunUnknownPipeline(t *testing.T) {
	eng := NewInMemoryEngine()

	_, err := eng.Run(context.Background(), "nope", nil)
	if !errors.Is(err, api.ErrPipelineNotFound) {
		t.Fatalf("expected ErrPipelineNotFound, got %v", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	eng := NewInMemoryEngine()

	_, err := eng.GetRun(context.Background(), "missing")
	if !errors.Is(err, api.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestSchemaRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := funcPipeline("typed-input", upperStep("only"))
	def.Schema = api.SchemaFunc(func(input any) (any, error) {
		s, ok := input.(string)
		if !ok || s == "" {
			return nil, errors.New("input must be a non-empty string")
		}
		return s, nil
	})
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	_, err := eng.Run(ctx, "typed-input", 42)
	var vErr *api.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}

	// A rejected run never gets a record.
	runs, err := eng.ListRuns(ctx, api.RunListOptions{Pipeline: "typed-input"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no run records after rejected input, got %d", len(runs))
	}

	rec, err := eng.Run(ctx, "typed-input", "ok")
	if err != nil {
		t.Fatalf("Run with valid input failed: %v", err)
	}
	if rec.Content != "OK" {
		t.Fatalf("unexpected content: %v", rec.Content)
	}
}

func TestListRunsFilters(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	ok := funcPipeline("list-ok", upperStep("s"))
	bad := funcPipeline("list-bad", api.FuncStep("s", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
		return api.StepOutput{}, errors.New("nope")
	}))
	if err := eng.RegisterPipeline(ok); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}
	if err := eng.RegisterPipeline(bad); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	if _, err := eng.Run(ctx, "list-ok", "a"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := eng.Run(ctx, "list-ok", "b"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := eng.Run(ctx, "list-bad", "c"); err == nil {
		t.Fatalf("expected failing run to error")
	}

	byPipeline, err := eng.ListRuns(ctx, api.RunListOptions{Pipeline: "list-ok"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(byPipeline) != 2 {
		t.Fatalf("expected 2 runs for list-ok, got %d", len(byPipeline))
	}

	byStatus, err := eng.ListRuns(ctx, api.RunListOptions{Status: api.StatusFailed})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].Pipeline != "list-bad" {
		t.Fatalf("expected exactly the failed list-bad run, got %+v", byStatus)
	}
}

func TestStartWithoutQueueUnsupported(t *testing.T) {
	eng := NewInMemoryEngine()

	def := funcPipeline("bg", upperStep("s"))
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	_, err := eng.Start(context.Background(), "bg", "x")
	if !errors.Is(err, api.ErrBackgroundUnsupported) {
		t.Fatalf("expected ErrBackgroundUnsupported, got %v", err)
	}
}

func TestSessionStateSharedAcrossRuns(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	writer := funcPipeline("session-write", api.FuncStep("write", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
		in.Session.Set("greeting", "hello from run one")
		return api.StepOutput{Content: "written"}, nil
	}))
	reader := funcPipeline("session-read", api.FuncStep("read", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
		v, _ := in.Session.Get("greeting")
		return api.StepOutput{Content: v}, nil
	}))
	if err := eng.RegisterPipeline(writer); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}
	if err := eng.RegisterPipeline(reader); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	if _, err := eng.Run(ctx, "session-write", nil, api.WithSessionID("s1")); err != nil {
		t.Fatalf("writer run failed: %v", err)
	}

	rec, err := eng.Run(ctx, "session-read", nil, api.WithSessionID("s1"))
	if err != nil {
		t.Fatalf("reader run failed: %v", err)
	}
	if rec.Content != "hello from run one" {
		t.Fatalf("expected session value to carry across runs, got %v", rec.Content)
	}

	// A different session sees nothing.
	other, err := eng.Run(ctx, "session-read", nil, api.WithSessionID("s2"))
	if err != nil {
		t.Fatalf("reader run failed: %v", err)
	}
	if other.Content != nil {
		t.Fatalf("expected empty state in a fresh session, got %v", other.Content)
	}
}

func TestInitialStateSeedsSession(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := funcPipeline("seeded", api.FuncStep("read", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
		v, _ := in.Session.Get("mode")
		return api.StepOutput{Content: v}, nil
	}))
	def.InitialState = map[string]any{"mode": "strict"}
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	rec, err := eng.Run(ctx, "seeded", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.Content != "strict" {
		t.Fatalf("expected initial state to be visible, got %v", rec.Content)
	}
}

func TestExtraIsVisibleToSteps(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := funcPipeline("extra", api.FuncStep("read", func(ctx context.Context, in api.StepInput) (api.StepOutput, error) {
		return api.StepOutput{Content: in.Extra["tenant"]}, nil
	}))
	if err := eng.RegisterPipeline(def); err != nil {
		t.Fatalf("RegisterPipeline failed: %v", err)
	}

	rec, err := eng.Run(ctx, "extra", nil, api.WithExtra(map[string]any{"tenant": "acme"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.Content != "acme" {
		t.Fatalf("expected extra data to reach the step, got %v", rec.Content)
	}
}
