// Package batch implements an ISA-88 style recipe/phase engine advanced by scan ticks.
package batch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const moduleName = "batch"

const (
	AlarmCommandRejected = "BATCH_COMMAND_REJECTED"
	AlarmFault           = "BATCH_FAULT"
)

// State is the state of a batch instance.
type State string

const (
	StateIdle      State = "IDLE"
	StateRunning   State = "RUNNING"
	StatePaused    State = "PAUSED"
	StateCompleted State = "COMPLETED"
	StateAborted   State = "ABORTED"
	StateFault     State = "FAULT"
)

// IsFinished reports whether the state is terminal.
func (s State) IsFinished() bool {
	switch s {
	case StateCompleted, StateAborted, StateFault:
		return true
	default:
		return false
	}
}

// IsActive reports whether a batch in this state blocks a new start.
func (s State) IsActive() bool {
	return s == StateRunning || s == StatePaused
}

// EventType identifies a batch event.
type EventType string

const (
	EventBatchStarted   EventType = "BATCH_STARTED"
	EventPhaseStarted   EventType = "PHASE_STARTED"
	EventPhaseCompleted EventType = "PHASE_COMPLETED"
	EventBatchPaused    EventType = "BATCH_PAUSED"
	EventBatchResumed   EventType = "BATCH_RESUMED"
	EventBatchCompleted EventType = "BATCH_COMPLETED"
	EventBatchAborted   EventType = "BATCH_ABORTED"
	EventBatchFaulted   EventType = "BATCH_FAULTED"
)

// Event is an entry in the batch log. Offset is the position on the batch clock.
type Event struct {
	ID         string        `json:"id"`
	BatchID    string        `json:"batch_id"`
	RecipeID   string        `json:"recipe_id"`
	RecipeName string        `json:"recipe_name"`
	Type       EventType     `json:"type"`
	Phase      string        `json:"phase,omitempty"`
	PhaseIndex int           `json:"phase_index"`
	Offset     time.Duration `json:"offset"`
	Timestamp  time.Time     `json:"timestamp"`
	User       string        `json:"user,omitempty"`
	Message    string        `json:"message,omitempty"`
}

// Listener receives batch events after the engine has released its lock.
type Listener interface {
	OnBatchEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnBatchEvent(ev Event) { f(ev) }

// OperationContext applies phase operations to the plant.
type OperationContext interface {
	SetLoopSetpoint(loop string, value float64) error
	SetLoopMode(loop string, mode pid.Mode) error
	// SetLoopOutput switches the loop to Manual and holds value.
	SetLoopOutput(loop string, value float64) error
	WriteTag(name string, value float64) error
	RaiseAlarm(id, message string, priority alarm.Priority) error
}

// Instance is one execution of a recipe.
type Instance struct {
	ID         string        `json:"id"`
	Recipe     Recipe        `json:"recipe"`
	State      State         `json:"state"`
	PhaseIndex int           `json:"phase_index"`
	Elapsed    time.Duration `json:"elapsed"`
	PhaseStart time.Duration `json:"phase_start"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at,omitempty"`
	StartedBy  string        `json:"started_by"`
	Reason     string        `json:"reason,omitempty"`
}

// CurrentPhase returns the active phase name, or "" when finished.
func (i Instance) CurrentPhase() string {
	if i.PhaseIndex < 0 || i.PhaseIndex >= len(i.Recipe.Phases) {
		return ""
	}
	return i.Recipe.Phases[i.PhaseIndex].Name
}

// Config bounds the engine's retained history.
type Config struct {
	HistoryCapacity int `yaml:"history_capacity"`
	EventCapacity   int `yaml:"event_capacity"`
}

// DefaultConfig returns the defaults used when a value is zero.
func DefaultConfig() Config {
	return Config{HistoryCapacity: 100, EventCapacity: 10000}
}

// Engine runs at most one batch at a time on a virtual clock advanced by Tick.
type Engine struct {
	cfg     Config
	ops     OperationContext
	reader  tag.Reader
	alarms  alarm.Raiser
	auditor audit.Recorder
	now     func() time.Time

	mu        sync.Mutex
	recipes   map[string]Recipe
	current   *Instance
	history   []Instance
	events    []Event
	listeners []Listener
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithListener registers a listener at construction.
func WithListener(l Listener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

// NewEngine creates an engine.
//
// Parameters:
//
//	cfg: History and event log bounds.
//	ops: Applies phase operations to loops and tags.
//	reader: Evaluates phase completion conditions.
//	alarms: Shared alarm handle owned by the controller.
//	auditor: Shared audit handle owned by the controller.
//	opts: Optional clock and listeners.
//
// Returns: A pointer to the initialized Engine.
func NewEngine(cfg Config, ops OperationContext, reader tag.Reader, alarms alarm.Raiser, auditor audit.Recorder, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.EventCapacity <= 0 {
		cfg.EventCapacity = def.EventCapacity
	}
	e := &Engine{
		cfg:     cfg,
		ops:     ops,
		reader:  reader,
		alarms:  alarms,
		auditor: auditor,
		now:     time.Now,
		recipes: make(map[string]Recipe),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddListener registers l for subsequent events.
func (e *Engine) AddListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// AddRecipe validates and registers r under its name, replacing any earlier version.
// A recipe without an id gets one.
func (e *Engine) AddRecipe(r Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r = r.deepCopy()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	e.mu.Lock()
	e.recipes[r.Name] = r
	e.mu.Unlock()
	logger.Infof("Recipe %s v%d registered (%d phases).", r.Name, r.Version, len(r.Phases))
	return nil
}

// Recipe returns a registered recipe by name.
func (e *Engine) Recipe(name string) (Recipe, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.recipes[name]
	if !ok {
		return Recipe{}, false
	}
	return r.deepCopy(), true
}

// Recipes returns registered recipes sorted by name.
func (e *Engine) Recipes() []Recipe {
	e.mu.Lock()
	out := make([]Recipe, 0, len(e.recipes))
	for _, r := range e.recipes {
		out = append(out, r.deepCopy())
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// pending collects side effects produced under the lock.
type pending struct {
	events []Event
	audits []func()
	alarms []func()
}

func (e *Engine) flush(p *pending) {
	e.mu.Lock()
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()
	for _, fn := range p.alarms {
		fn()
	}
	for _, fn := range p.audits {
		fn()
	}
	for _, ev := range p.events {
		for _, l := range listeners {
			notify(l, ev)
		}
	}
}

func notify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Batch listener panicked on %s: %v", ev.Type, r)
		}
	}()
	l.OnBatchEvent(ev)
}

// Start creates a batch for recipeName and starts its first phase. It is rejected while
// another batch is Running or Paused, without touching that batch. An empty batchID is
// replaced by a generated one.
//
// Parameters:
//
//	recipeName: Name of a registered recipe.
//	batchID: Identifier for the new batch, or "" to generate one.
//	user: Operator recorded in the audit trail.
//
// Returns:
//
//	The new batch instance. If a first-phase operation fails the batch is already in
//	FAULT and a KindTransient error wrapping ErrBatchFaulted is returned with it.
func (e *Engine) Start(recipeName, batchID, user string) (Instance, error) {
	p := &pending{}
	defer e.flush(p)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && e.current.State.IsActive() {
		err := exception.Rejected(moduleName, exception.ErrBatchActive, "start %s: batch %s is %s", recipeName, e.current.ID, e.current.State)
		e.rejectLocked(p, err)
		return Instance{}, err
	}
	r, ok := e.recipes[recipeName]
	if !ok {
		err := exception.Rejected(moduleName, exception.ErrUnknownRecipe, "start %s", recipeName)
		e.rejectLocked(p, err)
		return Instance{}, err
	}
	if batchID == "" {
		batchID = uuid.NewString()
	}
	if e.current != nil {
		e.archiveLocked(*e.current)
	}
	inst := &Instance{
		ID:        batchID,
		Recipe:    r.deepCopy(),
		State:     StateRunning,
		StartedAt: e.now(),
		StartedBy: user,
	}
	e.current = inst
	e.eventLocked(p, EventBatchStarted, user, fmt.Sprintf("recipe %s v%d", r.Name, r.Version))
	e.auditLocked(p, user, "BATCH_START", fmt.Sprintf("batch %s started with recipe %s v%d", batchID, r.Name, r.Version))
	logger.Infof("Batch %s started: recipe %s v%d by %s.", batchID, r.Name, r.Version, user)
	e.startPhaseLocked(p, 0)
	if inst.State == StateFault {
		return *inst, exception.NewControlErrorf(moduleName, exception.KindTransient, "batch %s faulted on start: %s", batchID, inst.Reason, exception.ErrBatchFaulted)
	}
	return *inst, nil
}

// Tick advances the running batch by dt and completes every phase whose end falls inside
// the advanced window. A phase that overshoots hands the excess to the next phase, so
// phase boundaries sit at exact offsets regardless of tick size.
func (e *Engine) Tick(dt time.Duration) {
	p := &pending{}
	defer e.flush(p)

	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.current
	if inst == nil || inst.State != StateRunning || dt < 0 {
		return
	}
	inst.Elapsed += dt
	for inst.State == StateRunning {
		phase := inst.Recipe.Phases[inst.PhaseIndex]
		var end time.Duration
		if phase.Duration > 0 {
			end = inst.PhaseStart + phase.Duration
			if inst.Elapsed < end {
				return
			}
		} else {
			result, valid := phase.CompleteWhen.Evaluate(e.reader)
			if !valid || !result {
				return
			}
			end = inst.Elapsed
		}
		e.completePhaseLocked(p, end)
	}
}

func (e *Engine) startPhaseLocked(p *pending, index int) {
	inst := e.current
	inst.PhaseIndex = index
	phase := inst.Recipe.Phases[index]
	e.eventLockedAt(p, EventPhaseStarted, "", "", inst.PhaseStart)
	logger.Debugf("Batch %s: phase %d (%s) started at %s.", inst.ID, index, phase.Name, inst.PhaseStart)
	for i, op := range phase.Operations {
		if err := e.applyOperation(op); err != nil {
			e.faultLocked(p, fmt.Sprintf("phase %s operation %d (%s %s): %v", phase.Name, i, op.Type, op.Target, err))
			return
		}
	}
}

func (e *Engine) completePhaseLocked(p *pending, end time.Duration) {
	inst := e.current
	e.eventLockedAt(p, EventPhaseCompleted, "", "", end)
	inst.PhaseStart = end
	next := inst.PhaseIndex + 1
	if next < len(inst.Recipe.Phases) {
		e.startPhaseLocked(p, next)
		return
	}
	inst.State = StateCompleted
	inst.EndedAt = e.now()
	inst.Elapsed = end
	e.eventLockedAt(p, EventBatchCompleted, "", fmt.Sprintf("total duration %s", end), end)
	logger.Infof("Batch %s completed in %s.", inst.ID, end)
	e.archiveLocked(*inst)
}

func (e *Engine) applyOperation(op Operation) error {
	return Apply(e.ops, op)
}

// Apply performs op against ops. Interlock actions use it as well as phase starts.
// A panic inside ops is returned as an error.
func Apply(ops OperationContext, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.FromPanic(moduleName, r)
		}
	}()
	if ops == nil {
		return fmt.Errorf("no operation context configured")
	}
	switch op.Type {
	case OperationSetpoint:
		return ops.SetLoopSetpoint(op.Target, op.Value)
	case OperationMode:
		mode, err := pid.ParseMode(op.Mode)
		if err != nil {
			return err
		}
		return ops.SetLoopMode(op.Target, mode)
	case OperationOutput:
		return ops.SetLoopOutput(op.Target, op.Value)
	case OperationWriteTag:
		return ops.WriteTag(op.Target, op.Value)
	case OperationAlarm:
		priority := alarm.PriorityInformation
		if op.Priority != "" {
			if priority, err = alarm.ParsePriority(op.Priority); err != nil {
				return err
			}
		}
		return ops.RaiseAlarm(op.Target, op.Message, priority)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func (e *Engine) faultLocked(p *pending, reason string) {
	inst := e.current
	inst.State = StateFault
	inst.Reason = reason
	inst.EndedAt = e.now()
	e.eventLocked(p, EventBatchFaulted, "", reason)
	logger.Errorf("Batch %s faulted: %s", inst.ID, reason)
	id := inst.ID
	if e.alarms != nil {
		p.alarms = append(p.alarms, func() {
			e.alarms.Raise(AlarmFault, fmt.Sprintf("batch %s faulted: %s", id, reason), alarm.PriorityHigh, alarm.CategoryBatch, moduleName)
		})
	}
	e.archiveLocked(*inst)
}

// Pause suspends a Running batch. The batch clock stops while Paused.
func (e *Engine) Pause(user string) error {
	return e.transition(user, "pause", []State{StateRunning}, StatePaused, EventBatchPaused, "BATCH_PAUSE", "")
}

// Resume continues a Paused batch.
func (e *Engine) Resume(user string) error {
	return e.transition(user, "resume", []State{StatePaused}, StateRunning, EventBatchResumed, "BATCH_RESUME", "")
}

// Abort ends a Running or Paused batch.
func (e *Engine) Abort(user, reason string) error {
	return e.transition(user, "abort", []State{StateRunning, StatePaused}, StateAborted, EventBatchAborted, "BATCH_ABORT", reason)
}

func (e *Engine) transition(user, verb string, from []State, to State, evType EventType, action, reason string) error {
	p := &pending{}
	defer e.flush(p)

	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.current
	if inst == nil || !stateIn(inst.State, from) {
		state := StateIdle
		if inst != nil {
			state = inst.State
		}
		err := exception.Rejected(moduleName, exception.ErrInvalidTransition, "%s: batch is %s", verb, state)
		e.rejectLocked(p, err)
		return err
	}
	inst.State = to
	if to.IsFinished() {
		inst.EndedAt = e.now()
		inst.Reason = reason
	}
	e.eventLocked(p, evType, user, reason)
	desc := fmt.Sprintf("batch %s %s at phase %s", inst.ID, to, inst.CurrentPhase())
	if reason != "" {
		desc += ": " + reason
	}
	e.auditLocked(p, user, action, desc)
	logger.Infof("Batch %s: %s by %s.", inst.ID, to, user)
	if to.IsFinished() {
		e.archiveLocked(*inst)
	}
	return nil
}

func stateIn(s State, set []State) bool {
	for _, c := range set {
		if s == c {
			return true
		}
	}
	return false
}

func (e *Engine) rejectLocked(p *pending, err error) {
	logger.Warnf("Batch command rejected: %v", err)
	if e.alarms == nil {
		return
	}
	msg := exception.ExtractErrorMessage(err)
	p.alarms = append(p.alarms, func() {
		e.alarms.Raise(AlarmCommandRejected, msg, alarm.PriorityInformation, alarm.CategoryBatch, moduleName)
	})
}

func (e *Engine) eventLocked(p *pending, t EventType, user, msg string) {
	e.eventLockedAt(p, t, user, msg, e.current.Elapsed)
}

func (e *Engine) eventLockedAt(p *pending, t EventType, user, msg string, offset time.Duration) {
	inst := e.current
	ev := Event{
		ID:         uuid.NewString(),
		BatchID:    inst.ID,
		RecipeID:   inst.Recipe.ID,
		RecipeName: inst.Recipe.Name,
		Type:       t,
		Phase:      inst.CurrentPhase(),
		PhaseIndex: inst.PhaseIndex,
		Offset:     offset,
		Timestamp:  e.now(),
		User:       user,
		Message:    msg,
	}
	e.events = append(e.events, ev)
	if over := len(e.events) - e.cfg.EventCapacity; over > 0 {
		e.events = e.events[over:]
	}
	p.events = append(p.events, ev)
}

func (e *Engine) auditLocked(p *pending, user, action, desc string) {
	if e.auditor == nil {
		return
	}
	p.audits = append(p.audits, func() {
		e.auditor.Record(user, action, audit.CategoryBatch, desc, true)
	})
}

func (e *Engine) archiveLocked(inst Instance) {
	for _, h := range e.history {
		if h.ID == inst.ID && h.StartedAt.Equal(inst.StartedAt) {
			return
		}
	}
	e.history = append(e.history, inst)
	if over := len(e.history) - e.cfg.HistoryCapacity; over > 0 {
		e.history = e.history[over:]
	}
}

// Status returns the current (or most recently finished) batch.
func (e *Engine) Status() (Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Instance{State: StateIdle}, false
	}
	return *e.current, true
}

// State returns the current batch state, Idle when no batch has run.
func (e *Engine) State() State {
	inst, _ := e.Status()
	return inst.State
}

// History returns finished batches, oldest first.
func (e *Engine) History() []Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Instance(nil), e.history...)
}

// Events returns the most recent events, oldest first. limit <= 0 returns all retained.
func (e *Engine) Events(limit int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := 0
	if limit > 0 && len(e.events) > limit {
		start = len(e.events) - limit
	}
	return append([]Event(nil), e.events[start:]...)
}
