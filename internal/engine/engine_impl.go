package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mvektor/weft/internal/persistence"
	"github.com/mvektor/weft/internal/taskqueue"
	"github.com/mvektor/weft/pkg/api"
)

// engineImpl is a synchronous, in-process engine implementation. Background
// execution is layered on top of it through a task queue and workers.
type engineImpl struct {
	pipelines *pipelineRegistry

	runs     persistence.RunStore
	sessions persistence.SessionStore
	events   persistence.EventStore

	queue    taskqueue.Queue
	observer api.Observer

	// cancels maps in-flight run IDs to their cooperative cancel flags.
	cancels sync.Map // string -> *atomic.Bool
}

// Config describes how to construct an engineImpl.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence

	// Queue enables Engine.Start. Without one, background runs return
	// api.ErrBackgroundUnsupported.
	Queue taskqueue.Queue

	Observer api.Observer
}

func NewInMemoryEngine() api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngine(persistence.Persistence{
		Runs:     mem,
		Sessions: mem,
		Events:   mem,
	})
}

func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Runs:     mem,
			Sessions: mem,
			Events:   mem,
		},
		Observer: obs,
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}

	return NewEngine(persistence.Persistence{
		Runs:     store,
		Sessions: store,
		Events:   events,
	}), nil
}

func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Runs:     store,
			Sessions: store,
			Events:   events,
		},
		Observer: obs,
	}), nil
}

// NewRedisEngine creates an engine that keeps runs and session state in
// Redis. Event history stays in-memory; use NewEngineWithConfig to swap in
// a durable event store.
func NewRedisEngine(client *redis.Client) api.Engine {
	store := persistence.NewRedisStore(client, "weft:")
	mem := persistence.NewInMemoryStore()

	return NewEngine(persistence.Persistence{
		Runs:     store,
		Sessions: store,
		Events:   mem,
	})
}

func NewRedisEngineWithObserver(client *redis.Client, obs api.Observer) api.Engine {
	store := persistence.NewRedisStore(client, "weft:")
	mem := persistence.NewInMemoryStore()

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Runs:     store,
			Sessions: store,
			Events:   mem,
		},
		Observer: obs,
	})
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	events := cfg.Persistence.Events
	if events == nil {
		events = persistence.NoopEventStore{}
	}
	return &engineImpl{
		pipelines: newPipelineRegistry(),
		runs:      cfg.Persistence.Runs,
		sessions:  cfg.Persistence.Sessions,
		events:    events,
		queue:     cfg.Queue,
		observer:  obs,
	}
}

// NewEngine returns an Engine backed by the given persistence bundle.
// External users access this via weft.NewInMemoryEngine and friends.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{Persistence: p})
}

func (e *engineImpl) RegisterPipeline(def api.PipelineDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return e.pipelines.Register(def)
}

// prepare resolves the pipeline, validates the input against its schema
// and persists a fresh run record in the given status.
func (e *engineImpl) prepare(pipeline string, input any, status api.Status, opts []api.RunOption) (api.PipelineDefinition, *api.RunRecord, api.RunOptions, error) {
	var ro api.RunOptions
	for _, opt := range opts {
		opt(&ro)
	}

	def, err := e.pipelines.Get(pipeline)
	if err != nil {
		return api.PipelineDefinition{}, nil, ro, err
	}

	if def.Schema != nil {
		input, err = def.Schema.ValidateInput(input)
		if err != nil {
			return api.PipelineDefinition{}, nil, ro, &api.ValidationError{Pipeline: pipeline, Reason: err}
		}
	}

	rec := &api.RunRecord{
		ID:        uuid.NewString(),
		Pipeline:  def.Name,
		SessionID: ro.SessionID,
		Status:    status,
		Input:     input,
		Extra:     ro.Extra,
		CreatedAt: time.Now(),
	}
	if err := e.runs.SaveRun(rec); err != nil {
		return api.PipelineDefinition{}, nil, ro, fmt.Errorf("save run: %w", err)
	}
	return def, rec, ro, nil
}

func (e *engineImpl) Run(ctx context.Context, pipeline string, input any, opts ...api.RunOption) (*api.RunRecord, error) {
	def, rec, ro, err := e.prepare(pipeline, input, api.StatusRunning, opts)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, def, rec, ro, nil)
}

func (e *engineImpl) RunStream(ctx context.Context, pipeline string, input any, opts ...api.RunOption) (<-chan api.Event, error) {
	def, rec, ro, err := e.prepare(pipeline, input, api.StatusRunning, opts)
	if err != nil {
		return nil, err
	}

	ch := make(chan api.Event, 16)
	go func() {
		defer close(ch)
		_, _ = e.execute(ctx, def, rec, ro, ch)
	}()
	return ch, nil
}

func (e *engineImpl) Start(ctx context.Context, pipeline string, input any, opts ...api.RunOption) (*api.RunRecord, error) {
	if e.queue == nil {
		return nil, api.ErrBackgroundUnsupported
	}

	_, rec, _, err := e.prepare(pipeline, input, api.StatusPending, opts)
	if err != nil {
		return nil, err
	}

	task := taskqueue.Task{
		ID:         uuid.NewString(),
		Type:       taskqueue.TaskTypeRunPending,
		RunID:      rec.ID,
		Pipeline:   rec.Pipeline,
		EnqueuedAt: time.Now(),
	}
	if err := e.queue.Enqueue(ctx, task); err != nil {
		rec.Status = api.StatusFailed
		rec.Err = err.Error()
		rec.CompletedAt = time.Now()
		_ = e.runs.UpdateRun(rec)
		return nil, fmt.Errorf("enqueue run %s: %w", rec.ID, err)
	}
	return rec, nil
}

// RunPending executes a run that Start left in the pending state. Workers
// call this after dequeueing the matching task.
func (e *engineImpl) RunPending(ctx context.Context, runID string) (*api.RunRecord, error) {
	rec, err := e.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Status != api.StatusPending {
		return rec, fmt.Errorf("run %s is %s, not pending", runID, rec.Status)
	}

	def, err := e.pipelines.Get(rec.Pipeline)
	if err != nil {
		rec.Status = api.StatusFailed
		rec.Err = err.Error()
		rec.CompletedAt = time.Now()
		_ = e.runs.UpdateRun(rec)
		return rec, err
	}

	rec.Status = api.StatusRunning
	if err := e.runs.UpdateRun(rec); err != nil {
		return rec, err
	}

	ro := api.RunOptions{SessionID: rec.SessionID, Extra: rec.Extra}
	return e.execute(ctx, def, rec, ro, nil)
}

func (e *engineImpl) GetRun(ctx context.Context, runID string) (*api.RunRecord, error) {
	rec, err := e.runs.GetRun(runID)
	if err != nil {
		if errors.Is(err, persistence.ErrRunNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrRunNotFound, runID)
		}
		return nil, err
	}
	return rec, nil
}

func (e *engineImpl) ListRuns(ctx context.Context, opts api.RunListOptions) ([]*api.RunRecord, error) {
	return e.runs.ListRuns(persistence.RunFilter{
		Pipeline: opts.Pipeline,
		Status:   opts.Status,
	})
}

func (e *engineImpl) CancelRun(ctx context.Context, runID string) (bool, error) {
	rec, err := e.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if rec.Status.Terminal() {
		return false, nil
	}

	// LoadOrStore lets a cancel land before the run's first boundary
	// check even when the run is still pending in the queue.
	flag, _ := e.cancels.LoadOrStore(runID, new(atomic.Bool))
	flag.(*atomic.Bool).Store(true)
	return true, nil
}

func (e *engineImpl) ListEvents(ctx context.Context, runID string) ([]api.Event, error) {
	return e.events.ListEvents(ctx, runID)
}

// loadSession materializes the run's session view: the definition's initial
// state overlaid with whatever the session has accumulated so far.
func (e *engineImpl) loadSession(def api.PipelineDefinition, sessionID string) (*api.SessionState, error) {
	state := api.NewSessionState(def.InitialState)
	if sessionID == "" || e.sessions == nil {
		return state, nil
	}
	stored, err := e.sessions.GetSessionState(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	state.Merge(stored)
	return state, nil
}

func (e *engineImpl) persistSession(sessionID string, state api.State) {
	if sessionID == "" || e.sessions == nil {
		return
	}
	_ = e.sessions.PutSessionState(sessionID, state.Snapshot())
}

// execute drives one run from root to a terminal status. The stream
// channel, when non-nil, receives the run's ordered events; the caller owns
// closing it.
func (e *engineImpl) execute(ctx context.Context, def api.PipelineDefinition, rec *api.RunRecord, ro api.RunOptions, stream chan<- api.Event) (*api.RunRecord, error) {
	flag, _ := e.cancels.LoadOrStore(rec.ID, new(atomic.Bool))
	cancel := flag.(*atomic.Bool)
	defer e.cancels.Delete(rec.ID)

	session, err := e.loadSession(def, ro.SessionID)
	if err != nil {
		rec.Status = api.StatusFailed
		rec.Err = err.Error()
		rec.CompletedAt = time.Now()
		_ = e.runs.UpdateRun(rec)
		return rec, err
	}

	bus := newEventBus(rec.ID, e.events, stream)

	e.observer.OnRunStart(ctx, rec)
	bus.emit(ctx, api.Event{Type: api.EventRunStarted, Content: rec.Input})

	w := &walker{
		rec:      rec,
		input:    rec.Input,
		extra:    ro.Extra,
		bus:      bus,
		observer: e.observer,
		cancel:   cancel,
	}
	br := newBranch(session)

	out, walkErr := w.exec(ctx, def.Root, br)

	// Whatever happened, completed work keeps its effects: persist the
	// partial trace and session state before classifying the outcome.
	rec.StepResults = br.trace
	rec.CompletedAt = time.Now()
	e.persistSession(ro.SessionID, session)

	switch {
	case walkErr != nil:
		rec.Status = api.StatusCancelled
		rec.Err = walkErr.Error()
		rec.Content = br.prev
		_ = e.runs.UpdateRun(rec)
		e.observer.OnRunCancelled(ctx, rec)
		bus.emit(ctx, api.Event{Type: api.EventRunCancelled, Detail: rec.Err})
		return rec, walkErr

	case !out.Success():
		execErr := &api.ExecutionError{Node: out.NodeName, Reason: out.Err}
		rec.Status = api.StatusFailed
		rec.Err = out.Err
		rec.Content = out.Content
		_ = e.runs.UpdateRun(rec)
		e.observer.OnRunFailed(ctx, rec, execErr)
		bus.emit(ctx, api.Event{Type: api.EventRunFailed, Node: out.NodeName, Detail: out.Err, Output: &out})
		return rec, execErr

	default:
		rec.Status = api.StatusCompleted
		rec.Content = out.Content
		_ = e.runs.UpdateRun(rec)
		e.observer.OnRunCompleted(ctx, rec)
		bus.emit(ctx, api.Event{Type: api.EventRunCompleted, Content: out.Content, Output: &out})
		return rec, nil
	}
}
