package api

import (
	"encoding/gob"
	"sync"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(StepOutput{})
	gob.Register([]StepOutput{})
	gob.Register(Artifact{})
	gob.Register([]Artifact{})
}

// Artifact is an auxiliary media reference produced or consumed by an
// executor (image, audio, file). The engine only accumulates and forwards
// artifacts; it never interprets them.
type Artifact struct {
	ID       string
	Kind     string
	URI      string
	Metadata map[string]any
}

// State is the shared mutable key/value store visible to executors during a
// run. A Sequence hands all children the same State; a Parallel hands each
// child an isolated fork whose writes are merged at fan-in.
type State interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (any, bool)

	// Set stores value under key.
	Set(key string, value any)

	// Snapshot returns a shallow copy of the current visible key set.
	Snapshot() map[string]any
}

// StepInput is the request contract passed into every node. It is built
// fresh from the run context for each node invocation and must be treated
// as immutable by executors; mutable interaction happens through Session.
type StepInput struct {
	// Input is the primary input the run was started with, typically text.
	Input any

	// PreviousContent is the content of the immediately preceding node's
	// output, or nil for the first node.
	PreviousContent any

	// Outputs maps node name to that node's StepOutput, covering every
	// node that has completed so far on the path to this one.
	Outputs map[string]StepOutput

	// Media holds auxiliary artifacts accumulated across prior nodes.
	Media []Artifact

	// Extra is an arbitrary additional-data map supplied by the caller.
	Extra map[string]any

	// Session is the shared session state for this run.
	Session State
}

// Output returns the recorded StepOutput for a node name, if present.
func (in StepInput) Output(name string) (StepOutput, bool) {
	out, ok := in.Outputs[name]
	return out, ok
}

// Text returns the primary input as a string when possible, else "".
func (in StepInput) Text() string {
	s, _ := in.Input.(string)
	return s
}

// StepOutput is the response contract returned by every node. The zero
// value is a successful, empty output; an output with a non-empty Err is a
// failure.
type StepOutput struct {
	// NodeName is filled in by the engine with the producing node's name.
	NodeName string

	// Content is the output payload, opaque to the engine.
	Content any

	// Err is the failure description. Empty means success.
	Err string

	// Stop requests early termination of the entire run. It is not a
	// failure: the run completes with this output as its final content.
	Stop bool

	// Metadata carries small, node-specific annotations.
	Metadata map[string]any

	// Media holds artifacts produced by this node.
	Media []Artifact
}

// Success reports whether the output represents a successful execution.
func (o StepOutput) Success() bool {
	return o.Err == ""
}

// WithMeta returns a copy of the output with key set in its metadata map.
func (o StepOutput) WithMeta(key string, value any) StepOutput {
	meta := make(map[string]any, len(o.Metadata)+1)
	for k, v := range o.Metadata {
		meta[k] = v
	}
	meta[key] = value
	o.Metadata = meta
	return o
}

// SessionState is the canonical State implementation: a goroutine-safe
// key/value map owned by a run (or shared across runs via a session ID).
type SessionState struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSessionState creates a SessionState seeded with the given values.
// The initial map is copied, not retained.
func NewSessionState(initial map[string]any) *SessionState {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &SessionState{values: values}
}

var _ State = (*SessionState)(nil)

func (s *SessionState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *SessionState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *SessionState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Merge applies delta on top of the current values, key by key.
func (s *SessionState) Merge(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.values[k] = v
	}
}

// Fork returns an isolated view of the state for one parallel branch. The
// fork sees a snapshot of the state at fork time plus its own writes; its
// writes stay buffered until merged at fan-in via Delta.
func (s *SessionState) Fork() *StateFork {
	return &StateFork{
		base:  s.Snapshot(),
		dirty: make(map[string]any),
	}
}

// ForkState creates an isolated fork of any State. It backs nested
// Parallel fan-outs, where the state being forked is itself a fork.
func ForkState(s State) *StateFork {
	return &StateFork{
		base:  s.Snapshot(),
		dirty: make(map[string]any),
	}
}

// StateFork is the copy-on-fan-out view handed to Parallel children.
// Reads fall through to the pre-fan-out snapshot; writes are buffered.
type StateFork struct {
	mu    sync.RWMutex
	base  map[string]any
	dirty map[string]any
}

var _ State = (*StateFork)(nil)

func (f *StateFork) Get(key string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if v, ok := f.dirty[key]; ok {
		return v, true
	}
	v, ok := f.base[key]
	return v, ok
}

func (f *StateFork) Set(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty[key] = value
}

func (f *StateFork) Snapshot() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]any, len(f.base)+len(f.dirty))
	for k, v := range f.base {
		out[k] = v
	}
	for k, v := range f.dirty {
		out[k] = v
	}
	return out
}

// Delta returns the writes buffered in this fork since fan-out.
func (f *StateFork) Delta() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]any, len(f.dirty))
	for k, v := range f.dirty {
		out[k] = v
	}
	return out
}
