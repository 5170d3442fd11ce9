package api

import (
	"reflect"
	"sync"
	"testing"
)

func TestStepOutputSuccess(t *testing.T) {
	if !(StepOutput{}).Success() {
		t.Fatal("zero StepOutput should be a success")
	}
	if (StepOutput{Err: "boom"}).Success() {
		t.Fatal("StepOutput with Err should not be a success")
	}
}

func TestStepOutputWithMetaCopies(t *testing.T) {
	orig := StepOutput{Metadata: map[string]any{"a": 1}}
	annotated := orig.WithMeta("b", 2)

	if _, ok := orig.Metadata["b"]; ok {
		t.Fatal("WithMeta mutated the original metadata map")
	}
	if annotated.Metadata["a"] != 1 || annotated.Metadata["b"] != 2 {
		t.Fatalf("unexpected annotated metadata: %v", annotated.Metadata)
	}
}

func TestStepInputText(t *testing.T) {
	if got := (StepInput{Input: "hello"}).Text(); got != "hello" {
		t.Fatalf("Text() = %q, want %q", got, "hello")
	}
	if got := (StepInput{Input: 42}).Text(); got != "" {
		t.Fatalf("Text() on non-string input = %q, want empty", got)
	}
}

func TestStepInputOutput(t *testing.T) {
	in := StepInput{Outputs: map[string]StepOutput{
		"draft": {NodeName: "draft", Content: "v1"},
	}}

	out, ok := in.Output("draft")
	if !ok || out.Content != "v1" {
		t.Fatalf("Output(draft) = %+v, %v", out, ok)
	}
	if _, ok := in.Output("missing"); ok {
		t.Fatal("Output should report absence for unknown names")
	}
}

func TestSessionStateCopiesInitial(t *testing.T) {
	initial := map[string]any{"k": "v"}
	st := NewSessionState(initial)
	initial["k"] = "mutated"

	if v, _ := st.Get("k"); v != "v" {
		t.Fatalf("initial map was retained, got %v", v)
	}
}

func TestSessionStateGetSetSnapshot(t *testing.T) {
	st := NewSessionState(nil)

	if _, ok := st.Get("missing"); ok {
		t.Fatal("Get on empty state should report absence")
	}

	st.Set("a", 1)
	st.Set("b", "two")

	if v, ok := st.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v", v, ok)
	}

	snap := st.Snapshot()
	want := map[string]any{"a": 1, "b": "two"}
	if !reflect.DeepEqual(snap, want) {
		t.Fatalf("Snapshot() = %v, want %v", snap, want)
	}

	// Snapshot must be detached from the live state.
	snap["a"] = 99
	if v, _ := st.Get("a"); v != 1 {
		t.Fatal("mutating a snapshot leaked into the state")
	}
}

func TestSessionStateMerge(t *testing.T) {
	st := NewSessionState(map[string]any{"a": 1, "b": 2})
	st.Merge(map[string]any{"b": 20, "c": 30})

	want := map[string]any{"a": 1, "b": 20, "c": 30}
	if got := st.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("after Merge: %v, want %v", got, want)
	}
}

func TestStateForkIsolation(t *testing.T) {
	st := NewSessionState(map[string]any{"base": "original"})
	fork := st.Fork()

	// Fork sees the base value.
	if v, ok := fork.Get("base"); !ok || v != "original" {
		t.Fatalf("fork Get(base) = %v, %v", v, ok)
	}

	// Fork writes stay buffered until merged.
	fork.Set("base", "branch")
	fork.Set("extra", true)

	if v, _ := st.Get("base"); v != "original" {
		t.Fatalf("fork write leaked into parent: %v", v)
	}

	// Writes after fork time are invisible to the fork.
	st.Set("late", "value")
	if _, ok := fork.Get("late"); ok {
		t.Fatal("fork observed a write made after fork time")
	}

	delta := fork.Delta()
	want := map[string]any{"base": "branch", "extra": true}
	if !reflect.DeepEqual(delta, want) {
		t.Fatalf("Delta() = %v, want %v", delta, want)
	}

	st.Merge(delta)
	if v, _ := st.Get("base"); v != "branch" {
		t.Fatalf("merged value = %v, want branch", v)
	}
}

func TestStateForkSnapshotOverlaysDirty(t *testing.T) {
	st := NewSessionState(map[string]any{"a": 1, "b": 2})
	fork := st.Fork()
	fork.Set("b", 20)

	want := map[string]any{"a": 1, "b": 20}
	if got := fork.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("fork Snapshot() = %v, want %v", got, want)
	}
}

func TestForkStateNests(t *testing.T) {
	st := NewSessionState(map[string]any{"depth": 0})
	outer := st.Fork()
	outer.Set("depth", 1)

	inner := ForkState(outer)
	if v, _ := inner.Get("depth"); v != 1 {
		t.Fatalf("nested fork should see outer writes, got %v", v)
	}

	inner.Set("depth", 2)
	if v, _ := outer.Get("depth"); v != 1 {
		t.Fatalf("inner write leaked into outer fork: %v", v)
	}
}

func TestSessionStateConcurrentAccess(t *testing.T) {
	st := NewSessionState(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st.Set("shared", n)
				st.Get("shared")
				st.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	if _, ok := st.Get("shared"); !ok {
		t.Fatal("shared key missing after concurrent writes")
	}
}
