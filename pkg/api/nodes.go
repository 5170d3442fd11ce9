package api

import (
	"fmt"
)

// NodeKind tags the control-flow policy of a Node.
type NodeKind string

const (
	NodeStep      NodeKind = "step"
	NodeSequence  NodeKind = "sequence"
	NodeParallel  NodeKind = "parallel"
	NodeCondition NodeKind = "condition"
	NodeLoop      NodeKind = "loop"
	NodeRouter    NodeKind = "router"
)

// ConditionFunc decides which branch of a Condition node executes. It may
// consult the session state carried in the input.
type ConditionFunc func(in StepInput) bool

// EndConditionFunc decides whether a Loop exits. It receives every
// StepOutput produced across all iterations so far; returning true exits.
type EndConditionFunc func(outputs []StepOutput) bool

// SelectorFunc chooses which of a Router's declared choices execute, by
// node name. Returned names must match declared choices; the selection
// order is the execution order.
type SelectorFunc func(in StepInput) []string

// Node is a named position in the execution tree: either a leaf bound to
// exactly one Executor, or a composite applying one control-flow policy to
// its children. Nodes are immutable once a pipeline is registered, and a
// node value may be shared between pipelines (named groups).
type Node struct {
	Kind NodeKind
	Name string

	// Executor is set for NodeStep only.
	Executor Executor

	// Children is the body for Sequence, Parallel and Loop, and the
	// true-branch for Condition.
	Children []*Node

	// Else is the Condition false-branch. Empty means pass-through.
	Else []*Node

	// Predicate is the Condition evaluator.
	Predicate ConditionFunc

	// EndCondition and MaxIterations control a Loop. MaxIterations is a
	// hard bound and always wins over EndCondition.
	EndCondition  EndConditionFunc
	MaxIterations int

	// Selector and Choices define a Router.
	Selector SelectorFunc
	Choices  []*Node
}

// NewStep creates a leaf node bound to one executor.
func NewStep(name string, exec Executor) *Node {
	return &Node{Kind: NodeStep, Name: name, Executor: exec}
}

// FuncStep is shorthand for a leaf node wrapping a plain function.
func FuncStep(name string, fn StepFunc) *Node {
	return NewStep(name, Func(fn))
}

// NewSequence creates a node that executes children strictly in
// declaration order.
func NewSequence(name string, children ...*Node) *Node {
	return &Node{Kind: NodeSequence, Name: name, Children: children}
}

// NewGroup creates a named, reusable Sequence. A group may be embedded in
// any number of pipelines.
func NewGroup(name string, children ...*Node) *Node {
	return NewSequence(name, children...)
}

// NewParallel creates a node that fans its children out concurrently and
// merges their outputs at fan-in, keyed by child name.
func NewParallel(name string, children ...*Node) *Node {
	return &Node{Kind: NodeParallel, Name: name, Children: children}
}

// NewCondition creates a branching node. elseChildren may be nil, in which
// case a false predicate passes the previous content through unchanged.
func NewCondition(name string, predicate ConditionFunc, children []*Node, elseChildren []*Node) *Node {
	return &Node{Kind: NodeCondition, Name: name, Predicate: predicate, Children: children, Else: elseChildren}
}

// NewLoop creates a bounded loop over children. maxIterations must be >= 1
// and always wins over endCondition; endCondition may be nil, in which
// case the loop always runs maxIterations times.
func NewLoop(name string, endCondition EndConditionFunc, maxIterations int, children ...*Node) *Node {
	return &Node{
		Kind:          NodeLoop,
		Name:          name,
		EndCondition:  endCondition,
		MaxIterations: maxIterations,
		Children:      children,
	}
}

// NewRouter creates a dynamic-dispatch node. The selector picks one or
// more choices by name; selected nodes execute as a sequence.
func NewRouter(name string, selector SelectorFunc, choices ...*Node) *Node {
	return &Node{Kind: NodeRouter, Name: name, Selector: selector, Choices: choices}
}

func (n *Node) checkSiblingNames(children []*Node) error {
	seen := make(map[string]bool, len(children))
	for _, c := range children {
		if c == nil {
			continue
		}
		if seen[c.Name] {
			return fmt.Errorf("%s %q has duplicate child name %q", n.Kind, n.Name, c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// subnodes returns every node directly reachable from n.
func (n *Node) subnodes() []*Node {
	out := make([]*Node, 0, len(n.Children)+len(n.Else)+len(n.Choices))
	out = append(out, n.Children...)
	out = append(out, n.Else...)
	out = append(out, n.Choices...)
	return out
}

// Validate checks the structural invariants of the tree rooted at n:
// non-empty names, exactly one executor per leaf, composite-specific
// requirements, and acyclicity. Shared subtrees (the same *Node reachable
// along several paths) are allowed; a node that is its own ancestor is not.
func (n *Node) Validate() error {
	return n.validate(make(map[*Node]bool))
}

func (n *Node) validate(onPath map[*Node]bool) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	if onPath[n] {
		return fmt.Errorf("node %q is part of a cycle", n.Name)
	}
	if n.Name == "" {
		return fmt.Errorf("%s node has empty name", n.Kind)
	}

	switch n.Kind {
	case NodeStep:
		if n.Executor == nil {
			return fmt.Errorf("step %q has no executor", n.Name)
		}
		if len(n.Children) > 0 || len(n.Else) > 0 || len(n.Choices) > 0 {
			return fmt.Errorf("step %q must not have children", n.Name)
		}
	case NodeSequence, NodeParallel:
		if len(n.Children) == 0 {
			return fmt.Errorf("%s %q has no children", n.Kind, n.Name)
		}
	case NodeCondition:
		if n.Predicate == nil {
			return fmt.Errorf("condition %q has no predicate", n.Name)
		}
		if len(n.Children) == 0 {
			return fmt.Errorf("condition %q has no true-branch children", n.Name)
		}
	case NodeLoop:
		if n.MaxIterations < 1 {
			return fmt.Errorf("loop %q must have max iterations >= 1", n.Name)
		}
		if len(n.Children) == 0 {
			return fmt.Errorf("loop %q has no children", n.Name)
		}
	case NodeRouter:
		if n.Selector == nil {
			return fmt.Errorf("router %q has no selector", n.Name)
		}
		if len(n.Choices) == 0 {
			return fmt.Errorf("router %q has no choices", n.Name)
		}
	default:
		return fmt.Errorf("node %q has unknown kind %q", n.Name, n.Kind)
	}

	// Direct siblings share one named-output map, so a duplicate name
	// would silently overwrite its twin's entry at fan-in.
	for _, group := range [][]*Node{n.Children, n.Else, n.Choices} {
		if err := n.checkSiblingNames(group); err != nil {
			return err
		}
	}

	onPath[n] = true
	for _, child := range n.subnodes() {
		if err := child.validate(onPath); err != nil {
			return err
		}
	}
	delete(onPath, n)

	return nil
}
