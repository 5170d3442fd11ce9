package persistence

import (
	"context"
	"errors"

	"github.com/mvektor/weft/pkg/api"
)

// ErrRunNotFound is returned when a run record is not found.
var ErrRunNotFound = errors.New("run not found")

// RunFilter is used to select runs from the store. Empty string / zero
// status mean "no filter" for that field.
type RunFilter struct {
	Pipeline string
	Status   api.Status
}

// RunStore handles storage of run records.
type RunStore interface {
	SaveRun(rec *api.RunRecord) error
	UpdateRun(rec *api.RunRecord) error
	GetRun(id string) (*api.RunRecord, error)
	ListRuns(filter RunFilter) ([]*api.RunRecord, error)
}

// SessionStore handles storage of per-session shared state maps.
type SessionStore interface {
	// GetSessionState returns the stored state map for a session, or an
	// empty map if the session has no state yet.
	GetSessionState(sessionID string) (map[string]any, error)
	PutSessionState(sessionID string, state map[string]any) error
}

// EventStore is an append-only history store for run events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.Event) error
	ListEvents(ctx context.Context, runID string) ([]api.Event, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.Event) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	return nil, nil
}

// Persistence bundles the store interfaces so the engine can depend on a
// single abstraction.
type Persistence struct {
	Runs     RunStore
	Sessions SessionStore
	Events   EventStore
}
