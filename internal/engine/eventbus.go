package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mvektor/weft/internal/persistence"
	"github.com/mvektor/weft/pkg/api"
)

// eventBus merges the event streams of all nodes of one run into a single
// ordered sequence. Sequential nodes emit in program order; Parallel
// children emit concurrently, so the bus serializes writers with a mutex
// while each node's own started/completed framing stays intact.
//
// Every event is appended to the retained event log (when a store is
// configured) and forwarded to the optional live stream channel.
type eventBus struct {
	runID  string
	store  persistence.EventStore
	stream chan<- api.Event

	mu sync.Mutex
}

func newEventBus(runID string, store persistence.EventStore, stream chan<- api.Event) *eventBus {
	if store == nil {
		store = persistence.NoopEventStore{}
	}
	return &eventBus{runID: runID, store: store, stream: stream}
}

// emit publishes one event. Append failures on the retained log are
// dropped rather than failing the run; the live stream blocks until the
// consumer reads or ctx ends.
func (b *eventBus) emit(ctx context.Context, ev api.Event) {
	ev.RunID = b.runID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.store.AppendEvent(ctx, ev)

	if b.stream != nil {
		select {
		case b.stream <- ev:
		case <-ctx.Done():
		}
	}
}
