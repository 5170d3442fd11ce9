package weft

import (
	"fmt"

	"github.com/mvektor/weft/pkg/api"
)

// PipelineBuilder provides a fluent API for defining pipelines:
//
//	pipe := weft.NewPipeline("enrich-lead").
//	    Func("fetch", fetchLead).
//	    Parallel("lookups",
//	        weft.FuncStep("company", lookupCompany),
//	        weft.FuncStep("social", lookupSocial),
//	    ).
//	    Func("merge", mergeProfiles)
//
//	if err := pipe.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, err := weft.Run(ctx, engine, pipe.Name(), input)
//
// Each builder call appends one node to the pipeline's root sequence.
// Nested structure is expressed by passing prebuilt nodes, typically via
// the node constructors re-exported by this package.
type PipelineBuilder struct {
	def api.PipelineDefinition
}

// NewPipeline creates a new pipeline builder with the given name.
func NewPipeline(name string) *PipelineBuilder {
	return &PipelineBuilder{
		def: api.PipelineDefinition{
			Name: name,
			Root: api.NewSequence(name),
		},
	}
}

// Name returns the pipeline name.
func (b *PipelineBuilder) Name() string {
	return b.def.Name
}

// Description sets the human-readable pipeline description.
func (b *PipelineBuilder) Description(desc string) *PipelineBuilder {
	b.def.Description = desc
	return b
}

// Schema sets the primary-input schema checked before every run.
func (b *PipelineBuilder) Schema(schema InputSchema) *PipelineBuilder {
	b.def.Schema = schema
	return b
}

// InitialState seeds the session state for every run of this pipeline.
func (b *PipelineBuilder) InitialState(state map[string]any) *PipelineBuilder {
	b.def.InitialState = state
	return b
}

// Definition returns the underlying PipelineDefinition.
// Typically used when interacting with lower-level APIs.
func (b *PipelineBuilder) Definition() PipelineDefinition {
	return b.def
}

// Node appends an arbitrary prebuilt node to the root sequence.
func (b *PipelineBuilder) Node(node *Node) *PipelineBuilder {
	if node == nil {
		panic("weft: nil node")
	}
	b.def.Root.Children = append(b.def.Root.Children, node)
	return b
}

// Step appends a leaf step backed by the given executor.
func (b *PipelineBuilder) Step(name string, exec Executor) *PipelineBuilder {
	if name == "" {
		panic("weft: step name must not be empty")
	}
	if exec == nil {
		panic(fmt.Sprintf("weft: step %q has nil executor", name))
	}
	return b.Node(api.NewStep(name, exec))
}

// Func appends a leaf step backed by a plain function.
func (b *PipelineBuilder) Func(name string, fn StepFunc) *PipelineBuilder {
	if name == "" {
		panic("weft: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("weft: step %q has nil function", name))
	}
	return b.Node(api.FuncStep(name, fn))
}

// Group appends a named sub-sequence whose result is recorded under the
// group's name.
func (b *PipelineBuilder) Group(name string, children ...*Node) *PipelineBuilder {
	return b.Node(api.NewGroup(name, children...))
}

// Parallel appends a fan-out over the given children.
func (b *PipelineBuilder) Parallel(name string, children ...*Node) *PipelineBuilder {
	return b.Node(api.NewParallel(name, children...))
}

// If appends a conditional branch. elseChildren may be nil, in which case a
// false predicate passes the previous content through unchanged.
func (b *PipelineBuilder) If(name string, cond ConditionFunc, children []*Node, elseChildren []*Node) *PipelineBuilder {
	return b.Node(api.NewCondition(name, cond, children, elseChildren))
}

// Loop appends a bounded loop. A nil endCondition runs exactly
// maxIterations times.
func (b *PipelineBuilder) Loop(name string, endCondition EndConditionFunc, maxIterations int, children ...*Node) *PipelineBuilder {
	return b.Node(api.NewLoop(name, endCondition, maxIterations, children...))
}

// Route appends a router that dispatches to a subset of the given choices.
func (b *PipelineBuilder) Route(name string, selector SelectorFunc, choices ...*Node) *PipelineBuilder {
	return b.Node(api.NewRouter(name, selector, choices...))
}

// Register registers the built pipeline with the given engine.
func (b *PipelineBuilder) Register(eng Engine) error {
	return eng.RegisterPipeline(b.def)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *PipelineBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
