package weft

import (
	"context"
	"fmt"

	"github.com/mvektor/weft/pkg/api"
)

// Node constructors re-exported for building nested pipelines.

// NewStep creates a leaf node backed by the given executor.
func NewStep(name string, exec Executor) *Node {
	return api.NewStep(name, exec)
}

// FuncStep creates a leaf node backed by a plain function.
func FuncStep(name string, fn StepFunc) *Node {
	return api.FuncStep(name, fn)
}

// NewSequence creates an ordered sequence of children.
func NewSequence(name string, children ...*Node) *Node {
	return api.NewSequence(name, children...)
}

// NewGroup creates a named group whose result is recorded under the group name.
func NewGroup(name string, children ...*Node) *Node {
	return api.NewGroup(name, children...)
}

// NewParallel creates a concurrent fan-out over children.
func NewParallel(name string, children ...*Node) *Node {
	return api.NewParallel(name, children...)
}

// NewCondition creates a predicate branch.
func NewCondition(name string, cond ConditionFunc, children []*Node, elseChildren []*Node) *Node {
	return api.NewCondition(name, cond, children, elseChildren)
}

// NewLoop creates a bounded loop over children.
func NewLoop(name string, endCondition EndConditionFunc, maxIterations int, children ...*Node) *Node {
	return api.NewLoop(name, endCondition, maxIterations, children...)
}

// NewRouter creates a dynamic dispatch over the given choices.
func NewRouter(name string, selector SelectorFunc, choices ...*Node) *Node {
	return api.NewRouter(name, selector, choices...)
}

// Executor adapters re-exported from pkg/api.

// Func wraps a plain function as an Executor.
func Func(fn StepFunc) Executor {
	return api.Func(fn)
}

// WrapAgent adapts an Agent into an Executor. Streaming agents have their
// chunks forwarded as executor.chunk events.
func WrapAgent(a api.Agent) Executor {
	return api.WrapAgent(a)
}

// WrapTeam adapts a Team into an Executor.
func WrapTeam(t api.Team) Executor {
	return api.WrapTeam(t)
}

// Typed wraps a strongly-typed transform into a StepFunc. The previous
// node's content (or the run input for the first node) must be assignable
// to I; a mismatch fails the step.
//
//	weft.Typed(func(ctx context.Context, n int) (int, error) { return n + 1, nil })
func Typed[I, O any](fn func(context.Context, I) (O, error)) StepFunc {
	return func(ctx context.Context, in StepInput) (StepOutput, error) {
		var typed I
		raw := in.PreviousContent
		if raw == nil {
			raw = in.Input
		}
		if raw != nil {
			var ok bool
			typed, ok = raw.(I)
			if !ok {
				return StepOutput{}, fmt.Errorf("expected input of type %T, got %T", typed, raw)
			}
		}
		out, err := fn(ctx, typed)
		if err != nil {
			return StepOutput{}, err
		}
		return StepOutput{Content: out}, nil
	}
}

// StopIf wraps a step function and raises the early-exit flag when the
// given predicate holds on its output. The remaining pipeline is skipped
// and the run completes with this step's content.
func StopIf(fn StepFunc, pred func(StepOutput) bool) StepFunc {
	return func(ctx context.Context, in StepInput) (StepOutput, error) {
		out, err := fn(ctx, in)
		if err != nil {
			return out, err
		}
		if pred(out) {
			out.Stop = true
		}
		return out, nil
	}
}
