package persistence

import (
	"context"
	"sync"

	"github.com/mvektor/weft/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of RunStore,
// SessionStore and EventStore backed by maps. It is non-durable and
// intended for tests and single-process use.
type InMemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]*api.RunRecord
	sessions map[string]map[string]any
	events   map[string][]api.Event
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:     make(map[string]*api.RunRecord),
		sessions: make(map[string]map[string]any),
		events:   make(map[string][]api.Event),
	}
}

var (
	_ RunStore     = (*InMemoryStore)(nil)
	_ SessionStore = (*InMemoryStore)(nil)
	_ EventStore   = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) SaveRun(rec *api.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[rec.ID] = cloneRun(rec)
	return nil
}

func (s *InMemoryStore) UpdateRun(rec *api.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[rec.ID]; !ok {
		return ErrRunNotFound
	}
	s.runs[rec.ID] = cloneRun(rec)
	return nil
}

func (s *InMemoryStore) GetRun(id string) (*api.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(rec), nil
}

func (s *InMemoryStore) ListRuns(filter RunFilter) ([]*api.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.RunRecord
	for _, rec := range s.runs {
		if filter.Pipeline != "" && rec.Pipeline != filter.Pipeline {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		result = append(result, cloneRun(rec))
	}
	return result, nil
}

func (s *InMemoryStore) GetSessionState(sessionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := s.sessions[sessionID]
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out, nil
}

func (s *InMemoryStore) PutSessionState(sessionID string, state map[string]any) error {
	copied := make(map[string]any, len(state))
	for k, v := range state {
		copied[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = copied
	return nil
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev api.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.RunID] = append(s.events[ev.RunID], ev)
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[runID]
	out := make([]api.Event, len(events))
	copy(out, events)
	return out, nil
}

// cloneRun copies a record so callers cannot mutate stored state (and the
// engine's working record stays isolated from readers polling GetRun).
func cloneRun(rec *api.RunRecord) *api.RunRecord {
	copied := *rec
	copied.StepResults = make([]api.StepOutput, len(rec.StepResults))
	copy(copied.StepResults, rec.StepResults)
	if rec.Extra != nil {
		copied.Extra = make(map[string]any, len(rec.Extra))
		for k, v := range rec.Extra {
			copied.Extra[k] = v
		}
	}
	return &copied
}
