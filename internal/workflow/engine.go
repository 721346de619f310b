package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ferralab/prepcore/internal/motion"
	"github.com/ferralab/prepcore/internal/recipe"
	"github.com/ferralab/prepcore/internal/telemetry"
)

// slot is the runtime occupancy record of a calibrated tray position.
type slot struct {
	def      recipe.SlotDef
	specimen string
	// job holds the id of the queued or running job bound to this slot.
	// Cleared when the job reaches a terminal state, except Failed and
	// Aborted source slots which stay bound until acknowledged.
	job uuid.UUID
}

// SlotView is the tray projection exposed over the API.
type SlotView struct {
	ID       string    `json:"id"`
	Role     string    `json:"role"`
	Specimen string    `json:"specimen,omitempty"`
	Recipe   string    `json:"recipe,omitempty"`
	Job      uuid.UUID `json:"job,omitempty"`
}

// Engine owns the job queue and the single worker goroutine that executes
// jobs. All motion flows through that one worker, which is what serializes
// access to the stage.
type Engine struct {
	settings Settings
	deps     Deps
	logger   *zap.Logger

	mu           sync.Mutex
	slots        map[string]*slot
	slotOrder    []string
	jobs         map[uuid.UUID]*Job
	pending      []uuid.UUID
	active       *Job
	activeCancel context.CancelFunc

	position  motion.Position
	moving    bool
	connected bool
	lastError string

	subsMu      sync.Mutex
	subscribers []chan Event

	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New validates the dependency set and builds an idle engine. Start must be
// called before jobs execute.
func New(settings Settings, deps Deps) (*Engine, error) {
	if deps.Motion == nil {
		return nil, fmt.Errorf("workflow: motion port is required")
	}
	if deps.Power == nil {
		return nil, fmt.Errorf("workflow: instrument port is required")
	}
	if deps.Sensors == nil {
		return nil, fmt.Errorf("workflow: sensor port is required")
	}
	if deps.Frames == nil {
		return nil, fmt.Errorf("workflow: frame source is required")
	}
	if deps.Analyzer == nil {
		return nil, fmt.Errorf("workflow: analyzer is required")
	}
	if deps.Recipes == nil {
		return nil, fmt.Errorf("workflow: recipe store is required")
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	settings.applyDefaults()

	e := &Engine{
		settings: settings,
		deps:     deps,
		logger:   deps.Logger.Named("workflow"),
		slots:    make(map[string]*slot),
		jobs:     make(map[uuid.UUID]*Job),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, def := range deps.Calibration.Slots {
		e.slots[def.ID] = &slot{def: def, specimen: def.Specimen}
		e.slotOrder = append(e.slotOrder, def.ID)
	}
	return e, nil
}

// Start launches the worker goroutine.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run()
	// Pick up anything queued before Start.
	e.kick()
}

// Stop cancels the active job, drains the worker and waits for it to exit.
// Pending jobs stay queued; they resume if Start is called again.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	if e.activeCancel != nil {
		e.activeCancel()
	}
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.stopCh = make(chan struct{})
	e.mu.Unlock()
}

// Enqueue validates preconditions and adds a job for the specimen in the
// given input slot. An empty recipe name falls back to the slot's assigned
// recipe, then the configured default.
func (e *Engine) Enqueue(slotID, recipeName string) (uuid.UUID, error) {
	e.mu.Lock()

	sl, ok := e.slots[slotID]
	if !ok {
		e.mu.Unlock()
		return uuid.Nil, preconditionf("unknown slot %q", slotID)
	}
	if sl.def.Role != recipe.RoleInput {
		e.mu.Unlock()
		return uuid.Nil, preconditionf("slot %q is not an input slot", slotID)
	}
	if sl.specimen == "" {
		e.mu.Unlock()
		return uuid.Nil, preconditionf("slot %q holds no specimen", slotID)
	}
	if sl.job != uuid.Nil {
		e.mu.Unlock()
		return uuid.Nil, preconditionf("slot %q already has job %s", slotID, sl.job)
	}

	name := recipeName
	if name == "" {
		name = sl.def.Recipe
	}
	if name == "" {
		name = e.settings.DefaultRecipe
	}
	if name == "" {
		e.mu.Unlock()
		return uuid.Nil, preconditionf("no recipe assigned to slot %q and no default configured", slotID)
	}
	e.mu.Unlock()

	rec, err := e.deps.Recipes.Load(name)
	if err != nil {
		return uuid.Nil, &PreconditionError{Msg: fmt.Sprintf("recipe %q", name), Err: err}
	}

	e.mu.Lock()
	// Re-check under lock; the slot may have been claimed while loading.
	sl, ok = e.slots[slotID]
	if !ok || sl.job != uuid.Nil || sl.specimen == "" {
		e.mu.Unlock()
		return uuid.Nil, preconditionf("slot %q changed during enqueue", slotID)
	}

	job := &Job{
		ID:         uuid.New(),
		Specimen:   sl.specimen,
		SourceSlot: slotID,
		Recipe:     rec,
		State:      StateQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	sl.job = job.ID
	e.jobs[job.ID] = job
	e.pending = append(e.pending, job.ID)
	view := job.view()
	e.mu.Unlock()

	if e.deps.Recorder != nil {
		if err := e.deps.Recorder.JobEnqueued(context.Background(), view); err != nil {
			e.logger.Warn("recording enqueued job failed",
				zap.String("job", view.ID.String()), zap.Error(err))
		}
	}
	e.publish(Event{JobID: job.ID, Specimen: view.Specimen, To: StateQueued, At: view.EnqueuedAt})
	e.logger.Info("job enqueued",
		zap.String("job", view.ID.String()),
		zap.String("specimen", view.Specimen),
		zap.String("slot", slotID),
		zap.String("recipe", rec.Name))

	e.kick()
	return job.ID, nil
}

// Cancel aborts a job. A pending job is archived as Aborted without any
// motion. A running job finishes its in-flight motion command and then
// unwinds through the retract recovery before being archived.
func (e *Engine) Cancel(id uuid.UUID) error {
	e.mu.Lock()

	job, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return ErrJobNotFound
	}
	if job.State.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("job %s already %s", id, job.State)
	}

	if e.active != nil && e.active.ID == id {
		cancel := e.activeCancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	for i, pid := range e.pending {
		if pid == id {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			break
		}
	}
	from := job.State
	job.State = StateAborted
	job.FinishedAt = time.Now().UTC()
	view := job.view()
	e.mu.Unlock()

	e.record(view, Event{
		JobID:    view.ID,
		Specimen: view.Specimen,
		From:     from,
		To:       StateAborted,
		At:       view.FinishedAt,
	})
	e.logger.Info("pending job aborted", zap.String("job", id.String()))
	return nil
}

// Acknowledge releases the source slot of a Failed or Aborted job after the
// operator has removed the specimen by hand.
func (e *Engine) Acknowledge(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateFailed && job.State != StateAborted {
		return fmt.Errorf("job %s is %s, only failed or aborted jobs can be acknowledged", id, job.State)
	}

	if sl, ok := e.slots[job.SourceSlot]; ok && sl.job == id {
		sl.job = uuid.Nil
		sl.specimen = ""
	}
	return nil
}

// Job returns the projection of a single job.
func (e *Engine) Job(id uuid.UUID) (JobView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job, ok := e.jobs[id]
	if !ok {
		return JobView{}, ErrJobNotFound
	}
	return job.view(), nil
}

// Jobs returns all known jobs, oldest first.
func (e *Engine) Jobs() []JobView {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]JobView, 0, len(e.jobs))
	for _, job := range e.jobs {
		views = append(views, job.view())
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].EnqueuedAt.Before(views[j].EnqueuedAt)
	})
	return views
}

// Slots returns the tray occupancy in calibration order.
func (e *Engine) Slots() []SlotView {
	e.mu.Lock()
	defer e.mu.Unlock()

	views := make([]SlotView, 0, len(e.slotOrder))
	for _, id := range e.slotOrder {
		sl := e.slots[id]
		views = append(views, SlotView{
			ID:       sl.def.ID,
			Role:     string(sl.def.Role),
			Specimen: sl.specimen,
			Recipe:   sl.def.Recipe,
			Job:      sl.job,
		})
	}
	return views
}

// LoadSpecimen records a specimen placed into an input slot by the operator.
func (e *Engine) LoadSpecimen(slotID, specimen string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sl, ok := e.slots[slotID]
	if !ok {
		return preconditionf("unknown slot %q", slotID)
	}
	if sl.def.Role != recipe.RoleInput {
		return preconditionf("slot %q is not an input slot", slotID)
	}
	if sl.job != uuid.Nil {
		return preconditionf("slot %q is bound to job %s", slotID, sl.job)
	}
	if specimen == "" {
		sl.specimen = ""
		return nil
	}
	sl.specimen = specimen
	return nil
}

func (e *Engine) kick() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.wake:
		}

		for {
			job, ctx := e.takeNext()
			if job == nil {
				break
			}
			e.execute(ctx, job)

			select {
			case <-e.stopCh:
				return
			default:
			}
		}
	}
}

func (e *Engine) takeNext() (*Job, context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return nil, nil
	}
	id := e.pending[0]
	e.pending = e.pending[1:]

	job, ok := e.jobs[id]
	if !ok || job.State != StateQueued {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.active = job
	e.activeCancel = cancel
	job.StartedAt = time.Now().UTC()
	return job, ctx
}

// transition applies a state change and fans it out to subscribers and the
// recorder. Runs on the worker goroutine only.
func (e *Engine) transition(job *Job, to State) {
	e.mu.Lock()
	from := job.State
	job.State = to
	if to.Terminal() {
		job.FinishedAt = time.Now().UTC()
	}
	view := job.view()
	e.mu.Unlock()

	e.record(view, Event{
		JobID:    view.ID,
		Specimen: view.Specimen,
		From:     from,
		To:       to,
		Reason:   view.Reason,
		Err:      view.Err,
		At:       time.Now().UTC(),
	})
}

func (e *Engine) record(view JobView, event Event) {
	if e.deps.Recorder != nil {
		if err := e.deps.Recorder.JobTransition(context.Background(), view, event); err != nil {
			e.logger.Warn("recording transition failed",
				zap.String("job", view.ID.String()),
				zap.String("to", string(event.To)),
				zap.Error(err))
		}
	}
	e.publish(event)
}

func (e *Engine) setPosition(pos motion.Position) {
	e.mu.Lock()
	e.position = pos
	e.mu.Unlock()
}

func (e *Engine) setMoving(moving bool) {
	e.mu.Lock()
	e.moving = moving
	e.mu.Unlock()
}

func (e *Engine) setLastError(msg string) {
	e.mu.Lock()
	e.lastError = msg
	e.mu.Unlock()
}
