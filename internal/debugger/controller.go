package debugger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// StepCallback is the engine's per-statement callback subscription. It
// fires at every statement and returns the step mode the engine should
// use to decide when to deliver the next one.
type StepCallback func(info DebugInformation) (StepIntent, error)

// BreakCallback is the engine's break callback subscription, fired only
// at breakpoint-binding locations and debugger statements.
type BreakCallback func(kind BreakKind, info DebugInformation) (StepIntent, error)

// Engine is everything the Session Controller needs from a script engine
// collaborator. internal/script provides the concrete gopher-lua
// implementation; the controller itself never depends on a VM type.
type Engine interface {
	Evaluator

	// Compile parses source for sourceID, returning an opaque AST handle
	// and the breakpointable positions derived from it.
	Compile(sourceID, source string) (ast any, positions []Position, err error)

	// Attach subscribes step and brk as the controller's callbacks.
	// Fails with ErrAlreadyAttached if already attached.
	Attach(step StepCallback, brk BreakCallback) error

	// Detach unsubscribes the engine's callbacks. Idempotent.
	Detach()

	// Run executes ast under sourceID on the calling goroutine, blocking
	// until completion, ctx cancellation, or an uncaught fault.
	Run(ctx context.Context, sourceID string, ast any) error

	// SetBreakpointLines mirrors the controller's breakpoint table for
	// sourceID onto the engine, so the engine's break callback fires
	// only at those lines.
	SetBreakpointLines(sourceID string, lines map[int]struct{})
}

// EventSink receives the client-facing events a Controller emits. The
// DAP session implements this to translate each event into a DAP
// `event` message.
type EventSink interface {
	Stopped(reason StopReason, info DebugInformation)
	Continued()
	LogPoint(message string, info DebugInformation)
	Done()
	Cancelled()
	// Fault reports the first uncaught engine fault. The session
	// terminates after this is delivered.
	Fault(err error)
}

type resumeSignal struct {
	intent StepIntent
	cancel bool
}

// Controller owns the debugger state machine, the interpreter-thread
// suspension primitive, breakpoint evaluation, and event emission for
// exactly one session. A fresh session is a fresh Controller; nothing
// here is process-wide.
type Controller struct {
	mu sync.Mutex

	state        State
	nextStep     StepIntent
	pauseOnEntry bool
	attached     bool
	running      bool
	terminating  bool
	sourceID     string
	current      *DebugInformation

	resumeCh chan resumeSignal
	cancel   context.CancelFunc

	registry    *Registry
	breakpoints *Table
	variables   *Store
	engine      Engine
	sink        EventSink
}

// New creates a Controller wired to engine and sink, with fresh Registry,
// Breakpoint Table, and Variable Store.
func New(engine Engine, sink EventSink) *Controller {
	return &Controller{
		state:       StateWaitingForUI,
		resumeCh:    make(chan resumeSignal, 1),
		registry:    NewRegistry(),
		breakpoints: NewTable(),
		variables:   NewStore(),
		engine:      engine,
		sink:        sink,
	}
}

// Breakpoints returns the session's Breakpoint Table.
func (c *Controller) Breakpoints() *Table { return c.breakpoints }

// Variables returns the session's Variable Store.
func (c *Controller) Variables() *Store { return c.variables }

// State returns the current debugger state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentInfo returns the last pause snapshot, or nil if the session has
// never paused or is not currently paused.
func (c *Controller) CurrentInfo() *DebugInformation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStepping {
		return nil
	}
	return c.current
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Execute parses and registers source under sourceID and spawns the
// interpreter goroutine. Fails with ErrInvalidState if a session is
// already running.
func (c *Controller) Execute(ctx context.Context, sourceID, source string, debug bool) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("%w: session already running", ErrInvalidState)
	}
	c.mu.Unlock()

	ast, positions, err := c.engine.Compile(sourceID, source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineFault, err)
	}
	if err := c.registry.Register(sourceID, ast, positions); err != nil {
		return err
	}
	c.breakpoints.ClearSource(sourceID) // fresh session, no carried-over breakpoints
	c.engine.SetBreakpointLines(sourceID, c.breakpoints.LinesForSource(sourceID))

	if err := c.attach(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.sourceID = sourceID
	c.pauseOnEntry = debug
	c.state = StateWaitingForUI
	c.running = true
	c.terminating = false
	c.cancel = cancel
	c.mu.Unlock()

	go c.runInterpreter(runCtx, sourceID, ast)
	return nil
}

func (c *Controller) runInterpreter(ctx context.Context, sourceID string, ast any) {
	defer c.detach()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		c.sink.Cancelled()
		return
	case <-c.resumeCh:
	}

	c.setState(StateEntering)

	err := c.engine.Run(ctx, sourceID, ast)

	c.mu.Lock()
	terminating := c.terminating
	c.mu.Unlock()

	switch {
	case terminating || errors.Is(err, context.Canceled):
		c.sink.Cancelled()
	case err != nil:
		c.sink.Fault(fmt.Errorf("%w: %w", ErrEngineFault, err))
	default:
		c.sink.Done()
	}
}

func (c *Controller) attach() error {
	c.mu.Lock()
	if c.attached {
		c.mu.Unlock()
		return ErrAlreadyAttached
	}
	c.attached = true
	c.mu.Unlock()

	return c.engine.Attach(c.onStep, c.onBreak)
}

func (c *Controller) detach() {
	c.mu.Lock()
	wasAttached := c.attached
	c.attached = false
	c.mu.Unlock()

	if wasAttached {
		c.engine.Detach()
	}
}

// NotifyUIReady releases the interpreter from its initial wait. Fails
// with ErrInvalidState unless the session is WaitingForUI.
func (c *Controller) NotifyUIReady() error {
	c.mu.Lock()
	if c.state != StateWaitingForUI {
		c.mu.Unlock()
		return fmt.Errorf("%w: notifyUIReady requires WaitingForUI, have %s", ErrInvalidState, c.state)
	}
	c.state = StateEntering
	c.mu.Unlock()

	c.resumeCh <- resumeSignal{intent: StepNone}
	return nil
}

// Pause arms a pause at the next statement boundary. A second Pause
// while one is already armed is a harmless no-op re-arm, not an error.
// Fails with ErrInvalidState if the session is not in a running state at
// all, or is already paused. A step in progress (state Stepping) is also
// rejected; the step itself stops at the next qualifying statement.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRunning, StateEntering, StatePausing:
		c.state = StatePausing
		return nil
	default:
		return fmt.Errorf("%w: pause requires a running state, have %s", ErrInvalidState, c.state)
	}
}

// Run resumes a paused session freely. Fails with ErrInvalidState unless
// paused.
func (c *Controller) Run() error {
	return c.resume(StepNone, StateRunning)
}

// StepOver resumes a paused session, pausing again at the next statement
// at the current frame depth or shallower.
func (c *Controller) StepOver() error { return c.resume(StepOver, StateStepping) }

// StepInto resumes a paused session, pausing again at the very next
// statement regardless of depth.
func (c *Controller) StepInto() error { return c.resume(StepInto, StateStepping) }

// StepOut resumes a paused session, pausing again at the next statement
// at a strictly shallower frame.
func (c *Controller) StepOut() error { return c.resume(StepOut, StateStepping) }

func (c *Controller) resume(intent StepIntent, next State) error {
	c.mu.Lock()
	if c.state != StateStepping {
		c.mu.Unlock()
		return fmt.Errorf("%w: resume requires a paused session, have %s", ErrInvalidState, c.state)
	}
	c.nextStep = intent
	c.state = next
	c.current = nil // the snapshot is only valid while paused
	c.mu.Unlock()

	c.resumeCh <- resumeSignal{intent: intent}
	return nil
}

// Terminate cancels the interpreter and releases any outstanding pause.
// Always succeeds; terminating an already-terminating or not-yet-started
// session is a no-op beyond recording the intent.
func (c *Controller) Terminate() error {
	c.mu.Lock()
	c.terminating = true
	c.state = StateTerminating
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case c.resumeCh <- resumeSignal{cancel: true}:
	default:
	}
	return nil
}

// SetBreakpoint snaps pos to the nearest valid breakpointable location in
// sourceID via the Script Registry, inserts the breakpoint, mirrors the
// updated line set onto the engine, and returns the snapped position.
func (c *Controller) SetBreakpoint(sourceID string, pos Position, condition, hitCondition, logMessage string) (Position, error) {
	snapped, err := c.registry.SnapBreakpoint(sourceID, pos)
	if err != nil {
		return Position{}, err
	}

	if _, err := c.breakpoints.Set(Breakpoint{
		SourceID:     sourceID,
		Pos:          snapped,
		Condition:    condition,
		HitCondition: hitCondition,
		LogMessage:   logMessage,
	}); err != nil {
		return Position{}, err
	}

	c.engine.SetBreakpointLines(sourceID, c.breakpoints.LinesForSource(sourceID))
	return snapped, nil
}

// ClearBreakpointsForSource empties every breakpoint registered for
// sourceID and mirrors the (now empty) line set onto the engine. DAP
// clients resend the full desired set on every setBreakpoints request,
// so this is how that request is served.
func (c *Controller) ClearBreakpointsForSource(sourceID string) {
	c.breakpoints.ClearSource(sourceID)
	c.engine.SetBreakpointLines(sourceID, c.breakpoints.LinesForSource(sourceID))
}

// ClearBreakpoints empties the whole Breakpoint Table.
func (c *Controller) ClearBreakpoints() {
	c.breakpoints.Clear()
}

// Evaluate delegates expression to the engine's evaluator in the current
// paused frame. Fails with ErrInvalidState unless paused.
func (c *Controller) Evaluate(expression string) (string, error) {
	c.mu.Lock()
	if c.state != StateStepping || c.current == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: evaluate requires a paused session", ErrInvalidState)
	}
	info := c.current
	c.mu.Unlock()

	var frame *Frame
	if len(info.Frames) > 0 {
		frame = &info.Frames[0]
	}

	result, err := c.engine.Evaluate(expression, frame)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEvaluationFault, err)
	}
	return result, nil
}

func (c *Controller) currentFrame(info *DebugInformation) *Frame {
	if len(info.Frames) == 0 {
		return nil
	}
	return &info.Frames[0]
}

// hitBreakpoint runs the Breakpoint Table's hit evaluation for info's
// current location, emitting a LogPoint event immediately when
// applicable. EvaluationFault is swallowed here per §7: the breakpoint
// is treated as non-breaking for that hit rather than aborting the
// session.
func (c *Controller) hitBreakpoint(info DebugInformation) HitResult {
	result, msg, err := c.breakpoints.Hit(info.SourceID, info.CurrentLocation, c.engine, c.currentFrame(&info))
	if err != nil {
		return HitNone
	}
	if result == HitLog {
		c.sink.LogPoint(msg, info)
	}
	return result
}

// onStep is the engine's per-statement callback.
func (c *Controller) onStep(info DebugInformation) (StepIntent, error) {
	c.mu.Lock()
	terminating := c.terminating
	attached := c.attached
	state := c.state
	c.mu.Unlock()

	if terminating {
		return StepNone, context.Canceled
	}
	if !attached {
		return StepNone, nil
	}

	switch state {
	case StateWaitingForUI, StateTerminating:
		return StepNone, fmt.Errorf("%w: step callback observed in %s", ErrInvalidState, state)
	}

	hit := c.hitBreakpoint(info)

	switch state {
	case StateEntering:
		if !c.pauseOnEntry {
			c.setState(StateRunning)
			return StepNone, nil
		}
		c.setState(StateStepping)
		return c.pause(ReasonEntry, info)
	case StateRunning:
		if hit == HitBreak {
			c.setState(StateStepping)
			return c.pause(ReasonBreakpoint, info)
		}
		return StepNone, nil
	case StatePausing:
		c.setState(StateStepping)
		return c.pause(ReasonPause, info)
	case StateStepping:
		return c.pause(ReasonStep, info)
	default:
		return StepNone, nil
	}
}

// onBreak is the engine's break callback, fired at breakpoint-binding
// locations and debugger statements.
func (c *Controller) onBreak(kind BreakKind, info DebugInformation) (StepIntent, error) {
	c.mu.Lock()
	terminating := c.terminating
	attached := c.attached
	state := c.state
	c.mu.Unlock()

	if terminating {
		return StepNone, context.Canceled
	}
	if !attached {
		return StepNone, nil
	}

	switch state {
	case StateWaitingForUI, StateTerminating:
		return StepNone, fmt.Errorf("%w: break callback observed in %s", ErrInvalidState, state)
	}

	if kind == BreakAtDebuggerStatement {
		c.setState(StateStepping)
		return c.pause(ReasonDebuggerStatement, info)
	}

	if c.hitBreakpoint(info) == HitBreak {
		c.setState(StateStepping)
		return c.pause(ReasonBreakpoint, info)
	}
	return StepNone, nil
}

// pause snapshots info, emits Stopped, blocks on the rendezvous channel
// until a client command releases it, emits Continued, and returns the
// released StepIntent mapped straight through to the engine's StepMode.
func (c *Controller) pause(reason StopReason, info DebugInformation) (StepIntent, error) {
	info.Reason = reason

	c.mu.Lock()
	c.current = &info
	c.mu.Unlock()

	c.sink.Stopped(reason, info)

	sig := <-c.resumeCh
	c.sink.Continued()

	if sig.cancel {
		return StepNone, context.Canceled
	}
	return sig.intent, nil
}
