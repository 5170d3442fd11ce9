package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvektor/weft/pkg/api"
)

// walker executes one run's node tree. It holds the run-wide immutable
// context; the mutable, path-local accumulation lives in branch values so
// Parallel fan-out can give every child an isolated view.
type walker struct {
	rec      *api.RunRecord
	input    any
	extra    map[string]any
	bus      *eventBus
	observer api.Observer
	cancel   *atomic.Bool
}

// branch is the path-local run context: the named-output map accumulated
// so far, the ordered leaf trace, the previous node's content, collected
// media, and the session state view for this path.
type branch struct {
	outputs map[string]api.StepOutput
	trace   []api.StepOutput
	prev    any
	media   []api.Artifact
	session api.State
}

func newBranch(session api.State) *branch {
	return &branch{
		outputs: make(map[string]api.StepOutput),
		session: session,
	}
}

// fork returns an isolated copy of the branch for one Parallel child. The
// child sees a snapshot of the named outputs, previous content and media
// at fan-out time, plus a buffered fork of the session state.
func (br *branch) fork() *branch {
	outputs := make(map[string]api.StepOutput, len(br.outputs))
	for k, v := range br.outputs {
		outputs[k] = v
	}
	media := make([]api.Artifact, len(br.media))
	copy(media, br.media)

	return &branch{
		outputs: outputs,
		prev:    br.prev,
		media:   media,
		session: api.ForkState(br.session),
	}
}

// stepInput builds the immutable per-node input from the branch state.
func (w *walker) stepInput(br *branch) api.StepInput {
	outputs := make(map[string]api.StepOutput, len(br.outputs))
	for k, v := range br.outputs {
		outputs[k] = v
	}
	media := make([]api.Artifact, len(br.media))
	copy(media, br.media)

	return api.StepInput{
		Input:           w.input,
		PreviousContent: br.prev,
		Outputs:         outputs,
		Media:           media,
		Extra:           w.extra,
		Session:         br.session,
	}
}

// record folds a node's output into the branch bookkeeping.
func (br *branch) record(out api.StepOutput, leaf bool) {
	br.outputs[out.NodeName] = out
	br.prev = out.Content
	br.media = append(br.media, out.Media...)
	if leaf {
		br.trace = append(br.trace, out)
	}
}

// checkBoundary implements cooperative cancellation: it is called between
// a node finishing and the next one starting, and between loop iterations.
// Both an explicit cancel request and context expiry take the same path.
func (w *walker) checkBoundary(ctx context.Context) error {
	if w.cancel.Load() {
		return &api.CancelledError{RunID: w.rec.ID}
	}
	select {
	case <-ctx.Done():
		return &api.CancelledError{RunID: w.rec.ID}
	default:
	}
	return nil
}

// exec runs one node and returns its output. The error return is reserved
// for cooperative cancellation; executor failures travel inside the
// StepOutput so composites can apply their own escalation policy.
func (w *walker) exec(ctx context.Context, node *api.Node, br *branch) (api.StepOutput, error) {
	if err := w.checkBoundary(ctx); err != nil {
		return api.StepOutput{}, err
	}

	if node.Kind == api.NodeStep {
		return w.execStep(ctx, node, br)
	}

	// Composite nodes get the same started/completed framing as leaves so
	// stream consumers can bracket groups; kind-specific events stay
	// interleaved between the two envelopes.
	w.bus.emit(ctx, api.Event{Type: api.EventNodeStarted, Node: node.Name})

	var out api.StepOutput
	var err error
	switch node.Kind {
	case api.NodeSequence:
		out, err = w.execSequence(ctx, node, node.Children, br)
	case api.NodeParallel:
		out, err = w.execParallel(ctx, node, br)
	case api.NodeCondition:
		out, err = w.execCondition(ctx, node, br)
	case api.NodeLoop:
		out, err = w.execLoop(ctx, node, br)
	case api.NodeRouter:
		out, err = w.execRouter(ctx, node, br)
	default:
		out = api.StepOutput{
			NodeName: node.Name,
			Err:      fmt.Sprintf("unknown node kind %q", node.Kind),
		}
		br.record(out, false)
	}
	if err != nil {
		return api.StepOutput{}, err
	}

	w.bus.emit(ctx, api.Event{
		Type:    api.EventNodeCompleted,
		Node:    node.Name,
		Content: out.Content,
		Output:  &out,
	})
	return out, nil
}

func (w *walker) execStep(ctx context.Context, node *api.Node, br *branch) (api.StepOutput, error) {
	in := w.stepInput(br)

	w.bus.emit(ctx, api.Event{Type: api.EventNodeStarted, Node: node.Name})
	w.observer.OnNodeStart(ctx, w.rec, node.Name, node.Kind)
	start := time.Now()

	var out api.StepOutput
	if se, ok := node.Executor.(api.StreamingExecutor); ok {
		// Drain the full stream: chunks are interleaved on the bus in
		// producer order, and the terminal output ends the node.
		for item := range se.InvokeStreaming(ctx, in) {
			if item.Output != nil {
				out = *item.Output
				continue
			}
			w.bus.emit(ctx, api.Event{
				Type:    api.EventExecutorChunk,
				Node:    node.Name,
				Content: item.Content,
			})
		}
	} else {
		out = node.Executor.Invoke(ctx, in)
	}

	out.NodeName = node.Name
	br.record(out, true)

	w.observer.OnNodeCompleted(ctx, w.rec, node.Name, node.Kind, out, time.Since(start))
	w.bus.emit(ctx, api.Event{
		Type:    api.EventNodeCompleted,
		Node:    node.Name,
		Content: out.Content,
		Output:  &out,
	})

	return out, nil
}

// execSequence drives children strictly in declaration order. A failed
// child propagates immediately; a child with Stop set skips the rest of
// the sequence and becomes the sequence's own output.
func (w *walker) execSequence(ctx context.Context, node *api.Node, children []*api.Node, br *branch) (api.StepOutput, error) {
	last := api.StepOutput{NodeName: node.Name, Content: br.prev}

	for _, child := range children {
		out, err := w.exec(ctx, child, br)
		if err != nil {
			return api.StepOutput{}, err
		}
		last = out
		if !out.Success() || out.Stop {
			break
		}
	}

	seqOut := last
	seqOut.NodeName = node.Name
	br.record(seqOut, false)
	return seqOut, nil
}

func (w *walker) execParallel(ctx context.Context, node *api.Node, br *branch) (api.StepOutput, error) {
	w.bus.emit(ctx, api.Event{Type: api.EventParallelStarted, Node: node.Name})
	w.observer.OnNodeStart(ctx, w.rec, node.Name, node.Kind)
	start := time.Now()

	n := len(node.Children)
	branches := make([]*branch, n)
	outs := make([]api.StepOutput, n)
	errs := make([]error, n)

	// Fan-out: every child gets the identical snapshot and an isolated
	// session fork. All children start; a sibling's failure or stop flag
	// never interrupts work already in flight.
	var wg sync.WaitGroup
	for i, child := range node.Children {
		branches[i] = br.fork()
		wg.Add(1)
		go func(i int, child *api.Node) {
			defer wg.Done()
			outs[i], errs[i] = w.exec(ctx, child, branches[i])
		}(i, child)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return api.StepOutput{}, err
		}
	}

	// Fan-in, in declaration order regardless of completion order: leaf
	// traces, named outputs, media, and buffered session writes
	// (last-writer-by-key among siblings).
	stop := false
	firstErr := ""
	contentByName := make(map[string]any, n)
	for i, child := range node.Children {
		cb := branches[i]
		br.trace = append(br.trace, cb.trace...)
		for k, v := range cb.outputs {
			br.outputs[k] = v
		}
		br.media = append(br.media, cb.media...)
		if fork, ok := cb.session.(*api.StateFork); ok {
			for k, v := range fork.Delta() {
				br.session.Set(k, v)
			}
		}

		contentByName[child.Name] = outs[i].Content
		if outs[i].Stop {
			stop = true
		}
		if firstErr == "" && !outs[i].Success() {
			firstErr = fmt.Sprintf("child %q: %s", child.Name, outs[i].Err)
		}
	}

	out := api.StepOutput{
		NodeName: node.Name,
		Content:  contentByName,
		Stop:     stop,
		Err:      firstErr,
	}
	br.record(out, false)

	w.observer.OnNodeCompleted(ctx, w.rec, node.Name, node.Kind, out, time.Since(start))
	w.bus.emit(ctx, api.Event{
		Type:   api.EventParallelCompleted,
		Node:   node.Name,
		Output: &out,
	})

	return out, nil
}

func (w *walker) execCondition(ctx context.Context, node *api.Node, br *branch) (api.StepOutput, error) {
	in := w.stepInput(br)
	taken := node.Predicate(in)

	detail := "else"
	if taken {
		detail = "then"
	}
	w.bus.emit(ctx, api.Event{Type: api.EventConditionEvaluated, Node: node.Name, Detail: detail})

	children := node.Children
	if !taken {
		children = node.Else
	}
	if len(children) == 0 {
		// No else branch: pass the previous content through unchanged.
		out := api.StepOutput{NodeName: node.Name, Content: br.prev}
		br.record(out, false)
		return out, nil
	}
	return w.execSequence(ctx, node, children, br)
}

func (w *walker) execLoop(ctx context.Context, node *api.Node, br *branch) (api.StepOutput, error) {
	var all []api.StepOutput
	var last api.StepOutput
	satisfied := false

	for it := 1; it <= node.MaxIterations; it++ {
		// Iteration boundaries honor cancellation like node boundaries.
		if it > 1 {
			if err := w.checkBoundary(ctx); err != nil {
				return api.StepOutput{}, err
			}
		}

		br.session.Set(node.Name+".iteration", it)
		w.bus.emit(ctx, api.Event{Type: api.EventLoopIterationStarted, Node: node.Name, Iteration: it})

		mark := len(br.trace)
		out, err := w.execSequence(ctx, node, node.Children, br)
		if err != nil {
			return api.StepOutput{}, err
		}
		last = out
		all = append(all, br.trace[mark:]...)

		w.bus.emit(ctx, api.Event{Type: api.EventLoopIterationCompleted, Node: node.Name, Iteration: it, Output: &out})

		if !out.Success() || out.Stop {
			break
		}
		if node.EndCondition != nil && node.EndCondition(all) {
			satisfied = true
			break
		}
	}

	loopOut := last
	loopOut.NodeName = node.Name
	if node.EndCondition != nil && !satisfied && loopOut.Success() && !loopOut.Stop {
		// The bound won over the end condition: a normal exit, surfaced
		// distinguishably so callers can react to unmet quality.
		loopOut = loopOut.WithMeta(api.MetaIterationLimit, true)
		w.bus.emit(ctx, api.Event{Type: api.EventLoopLimit, Node: node.Name, Iteration: node.MaxIterations})
	}

	br.record(loopOut, false)
	return loopOut, nil
}

func (w *walker) execRouter(ctx context.Context, node *api.Node, br *branch) (api.StepOutput, error) {
	in := w.stepInput(br)
	selected := node.Selector(in)

	w.bus.emit(ctx, api.Event{
		Type:   api.EventRouterSelected,
		Node:   node.Name,
		Detail: strings.Join(selected, ","),
	})

	byName := make(map[string]*api.Node, len(node.Choices))
	for _, choice := range node.Choices {
		byName[choice.Name] = choice
	}

	chosen := make([]*api.Node, 0, len(selected))
	for _, name := range selected {
		target, ok := byName[name]
		if !ok {
			out := api.StepOutput{
				NodeName: node.Name,
				Err:      fmt.Sprintf("router %q selected unknown choice %q", node.Name, name),
			}
			br.record(out, false)
			return out, nil
		}
		chosen = append(chosen, target)
	}

	if len(chosen) == 0 {
		out := api.StepOutput{NodeName: node.Name, Content: br.prev}
		br.record(out, false)
		return out, nil
	}
	// Selected targets execute as a sequence, in selection order.
	return w.execSequence(ctx, node, chosen, br)
}
