package api

import (
	"context"
	"fmt"
)

// Executor is an opaque unit of work bound to a Step node. Implementations
// must capture their own errors: Invoke returns a failed StepOutput instead
// of panicking or leaking errors across the boundary.
type Executor interface {
	Invoke(ctx context.Context, in StepInput) StepOutput
}

// StreamItem is one element of a streaming invocation: either an
// incremental content chunk or the terminal StepOutput. A well-formed
// stream yields zero or more chunks followed by exactly one item whose
// Output is non-nil, then closes.
type StreamItem struct {
	Content any
	Output  *StepOutput
}

// StreamingExecutor is implemented by executors that emit incremental
// events before their terminal output.
type StreamingExecutor interface {
	Executor
	InvokeStreaming(ctx context.Context, in StepInput) <-chan StreamItem
}

// StepFunc is the plain-function executor kind.
type StepFunc func(ctx context.Context, in StepInput) (StepOutput, error)

// Agent is the external single-unit collaborator contract. The agent is
// solely responsible for producing content; the engine only normalizes its
// call convention.
type Agent interface {
	Run(ctx context.Context, in StepInput) (StepOutput, error)
}

// StreamingAgent is an Agent that can stream incremental chunks before its
// final output.
type StreamingAgent interface {
	Agent
	RunStream(ctx context.Context, in StepInput) <-chan StreamItem
}

// Team is the external multi-unit collaborator contract: a coordinated
// group of agents invoked as a single unit of work.
type Team interface {
	Run(ctx context.Context, in StepInput) (StepOutput, error)
}

// Func wraps a plain function into an Executor.
func Func(fn StepFunc) Executor {
	return funcExecutor{fn: fn}
}

// WrapAgent wraps an Agent into an Executor. If the agent also implements
// StreamingAgent, the returned executor streams.
func WrapAgent(a Agent) Executor {
	if sa, ok := a.(StreamingAgent); ok {
		return streamingAgentExecutor{agentExecutor{agent: a}, sa}
	}
	return agentExecutor{agent: a}
}

// WrapTeam wraps a Team into an Executor.
func WrapTeam(t Team) Executor {
	return teamExecutor{team: t}
}

type funcExecutor struct {
	fn StepFunc
}

func (e funcExecutor) Invoke(ctx context.Context, in StepInput) (out StepOutput) {
	defer capturePanic(&out)
	res, err := e.fn(ctx, in)
	return normalize(res, err)
}

type agentExecutor struct {
	agent Agent
}

func (e agentExecutor) Invoke(ctx context.Context, in StepInput) (out StepOutput) {
	defer capturePanic(&out)
	res, err := e.agent.Run(ctx, in)
	return normalize(res, err)
}

type streamingAgentExecutor struct {
	agentExecutor
	streaming StreamingAgent
}

var _ StreamingExecutor = streamingAgentExecutor{}

func (e streamingAgentExecutor) InvokeStreaming(ctx context.Context, in StepInput) <-chan StreamItem {
	out := make(chan StreamItem, 1)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				terminal := StepOutput{Err: fmt.Sprintf("executor panic: %v", r)}
				out <- StreamItem{Output: &terminal}
			}
		}()

		sawTerminal := false
		for item := range e.streaming.RunStream(ctx, in) {
			if item.Output != nil {
				sawTerminal = true
			}
			select {
			case out <- item:
			case <-ctx.Done():
				terminal := StepOutput{Err: ctx.Err().Error()}
				out <- StreamItem{Output: &terminal}
				return
			}
		}
		// Guard against collaborators that close without a terminal output.
		if !sawTerminal {
			terminal := StepOutput{Err: "executor stream closed without a terminal output"}
			out <- StreamItem{Output: &terminal}
		}
	}()
	return out
}

type teamExecutor struct {
	team Team
}

func (e teamExecutor) Invoke(ctx context.Context, in StepInput) (out StepOutput) {
	defer capturePanic(&out)
	res, err := e.team.Run(ctx, in)
	return normalize(res, err)
}

// normalize folds a (StepOutput, error) call convention into the single
// StepOutput contract: a non-nil error wins over whatever the executor
// returned.
func normalize(res StepOutput, err error) StepOutput {
	if err != nil {
		res.Err = err.Error()
	}
	return res
}

func capturePanic(out *StepOutput) {
	if r := recover(); r != nil {
		*out = StepOutput{Err: fmt.Sprintf("executor panic: %v", r)}
	}
}
