package script

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	luaparse "github.com/yuin/gopher-lua/parse"

	"github.com/dshills/luadap/internal/debugger"
)

// evalResultGlobal is the scratch global evalRaw stashes its result
// under. It is cleared immediately after every use.
const evalResultGlobal = "__luadap_eval_result"

var hookCancelSentinel = fmt.Errorf("luadap: terminated")

// Engine is the gopher-lua implementation of the debugger package's
// Engine and Evaluator contracts. One Engine serves exactly one session.
type Engine struct {
	mu sync.Mutex

	L *lua.LState

	step     debugger.StepCallback
	brk      debugger.BreakCallback
	attached bool

	sourceID   string
	breakLines map[string]map[int]struct{}

	pendingIntent debugger.StepIntent
	targetDepth   int
}

// New creates an Engine with a fresh sandboxed gopher-lua state: the base,
// table, string, and math libraries only, matching the plugin runtime's
// library allowlist.
func New() *Engine {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	e := &Engine{L: L, breakLines: make(map[string]map[int]struct{})}
	L.SetGlobal("debugger", L.NewFunction(e.debuggerFn))
	return e
}

// Close releases the underlying Lua state.
func (e *Engine) Close() {
	e.L.Close()
}

// Compile validates source and computes its breakpointable line
// positions. The returned ast value is the source text itself; gopher-lua
// has no public split between parsing and running a chunk, so Run
// re-parses it via DoString.
func (e *Engine) Compile(sourceID, source string) (any, []debugger.Position, error) {
	if _, err := luaparse.Parse(strings.NewReader(source), sourceID); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	return source, breakpointablePositions(source), nil
}

// breakpointablePositions treats every source line with non-whitespace,
// non-comment-only content as a candidate breakpoint location. gopher-lua
// does not expose its parsed statement line table publicly, so this
// textual approximation stands in for it; SnapBreakpoint in the Script
// Registry still performs the forward-fall search over these positions.
func breakpointablePositions(source string) []debugger.Position {
	var positions []debugger.Position
	for i, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		positions = append(positions, debugger.Position{Line: i + 1})
	}
	return positions
}

// Attach subscribes step and brk as the engine's debug-hook callbacks.
func (e *Engine) Attach(step debugger.StepCallback, brk debugger.BreakCallback) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attached {
		return debugger.ErrAlreadyAttached
	}
	e.step, e.brk, e.attached = step, brk, true
	return nil
}

// Detach unsubscribes the engine's callbacks. Idempotent.
func (e *Engine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attached = false
	e.step, e.brk = nil, nil
}

// SetBreakpointLines mirrors the session's breakpoint line set for
// sourceID so the debug hook knows which lines to route through
// BreakCallback instead of StepCallback.
func (e *Engine) SetBreakpointLines(sourceID string, lines map[int]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breakLines[sourceID] = lines
}

// Run executes ast (source text produced by Compile) under sourceID,
// blocking until the script finishes, ctx is cancelled, or a fault
// occurs.
func (e *Engine) Run(ctx context.Context, sourceID string, ast any) (err error) {
	source, _ := ast.(string)

	e.mu.Lock()
	e.sourceID = sourceID
	e.pendingIntent = debugger.StepInto
	e.targetDepth = 0
	e.mu.Unlock()

	e.L.SetContext(ctx)
	defer e.L.RemoveContext()

	e.L.SetHook(e.onLine, lua.MaskLine, 0)
	defer e.L.SetHook(nil, 0, 0)

	defer func() {
		if r := recover(); r != nil {
			if r == hookCancelSentinel {
				err = context.Canceled
				return
			}
			panic(r)
		}
	}()

	if runErr := e.L.DoString(source); runErr != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
			return runErr
		}
	}
	return nil
}

// onLine is gopher-lua's per-line debug hook. It is the single dispatch
// point for both step and breakpoint-line callbacks.
func (e *Engine) onLine(L *lua.LState, dbg *lua.Debug) {
	line := dbg.CurrentLine
	depth := e.currentDepth()

	e.mu.Lock()
	attached := e.attached
	sourceID := e.sourceID
	breakLine := e.isBreakLineLocked(sourceID, line)
	e.mu.Unlock()

	if !attached {
		return
	}

	if !breakLine && !e.shouldStepAt(depth) {
		return
	}

	info := debugger.DebugInformation{
		SourceID:        sourceID,
		CurrentLocation: debugger.Position{Line: line},
		Frames:          e.buildFrames(depth),
	}

	var (
		intent debugger.StepIntent
		err    error
	)
	if breakLine {
		intent, err = e.brk(debugger.BreakAtBreakpoint, info)
	} else {
		intent, err = e.step(info)
	}
	if err != nil {
		panic(hookCancelSentinel)
	}

	e.mu.Lock()
	e.pendingIntent = intent
	e.targetDepth = depth
	e.mu.Unlock()
}

// debuggerFn backs the `debugger()` Lua global, the scripting analogue of
// a debugger statement: it always suspends, independent of the
// breakpoint table and the current step intent.
func (e *Engine) debuggerFn(L *lua.LState) int {
	line := 0
	if d, ok := L.GetStack(0); ok {
		line = d.CurrentLine
	}
	depth := e.currentDepth()

	e.mu.Lock()
	attached := e.attached
	sourceID := e.sourceID
	e.mu.Unlock()

	if !attached {
		return 0
	}

	info := debugger.DebugInformation{
		SourceID:        sourceID,
		CurrentLocation: debugger.Position{Line: line},
		Frames:          e.buildFrames(depth),
	}

	intent, err := e.brk(debugger.BreakAtDebuggerStatement, info)
	if err != nil {
		panic(hookCancelSentinel)
	}

	e.mu.Lock()
	e.pendingIntent = intent
	e.targetDepth = depth
	e.mu.Unlock()
	return 0
}

func (e *Engine) isBreakLineLocked(sourceID string, line int) bool {
	lines, ok := e.breakLines[sourceID]
	if !ok {
		return false
	}
	_, ok = lines[line]
	return ok
}

// shouldStepAt reports whether a non-breakpoint line at depth should be
// delivered to the StepCallback, given the step intent returned from the
// most recent pause. Free running (StepNone) never stops at ordinary
// lines; only the breakpoint table can suspend it.
func (e *Engine) shouldStepAt(depth int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.pendingIntent {
	case debugger.StepInto:
		return true
	case debugger.StepOver:
		return depth <= e.targetDepth
	case debugger.StepOut:
		return depth < e.targetDepth
	default: // StepNone
		return false
	}
}

// currentDepth counts the live call stack via GetStack, since gopher-lua
// has no direct "stack depth" accessor.
func (e *Engine) currentDepth() int {
	depth := 0
	for {
		if _, ok := e.L.GetStack(depth); !ok {
			break
		}
		depth++
	}
	return depth
}

// buildFrames materializes depth frames from the live call stack,
// innermost first. gopher-lua's debug introspection does not expose Lua
// function names without a lua_getinfo-equivalent, so frame names are
// synthetic.
func (e *Engine) buildFrames(depth int) []debugger.Frame {
	e.mu.Lock()
	sourceID := e.sourceID
	e.mu.Unlock()

	frames := make([]debugger.Frame, 0, depth)
	for i := 0; i < depth; i++ {
		d, ok := e.L.GetStack(i)
		if !ok {
			break
		}
		name := "main chunk"
		if i > 0 {
			name = fmt.Sprintf("function (depth %d)", i)
		}
		frame := debugger.Frame{
			ID:       i,
			Name:     name,
			SourceID: sourceID,
			Line:     d.CurrentLine,
		}
		frame.Scope = &localsContainer{e: e, dbg: d}
		frames = append(frames, frame)
	}
	return frames
}

// Globals returns a container over the Lua global table, for the DAP
// layer's separate "Globals" scope.
func (e *Engine) Globals() debugger.ContainerRef {
	g, _ := e.L.Get(lua.GlobalsIndex).(*lua.LTable)
	return &tableContainer{e: e, t: g}
}

// Evaluate implements debugger.Evaluator for display strings: log
// messages and client watch expressions. The expression runs in the Lua
// global environment; frame is not used, so the paused frame's locals are
// not visible to it.
func (e *Engine) Evaluate(expression string, frame *debugger.Frame) (string, error) {
	v, err := e.evalRaw(expression)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// EvaluateBool implements debugger.Evaluator for breakpoint conditions,
// applying Lua's truthiness rule: only nil and false are false. Like
// Evaluate, it sees globals only, not the paused frame's locals.
func (e *Engine) EvaluateBool(expression string, frame *debugger.Frame) (bool, error) {
	v, err := e.evalRaw(expression)
	if err != nil {
		return false, err
	}
	return luaTruthy(v), nil
}

// evalRaw runs "<evalResultGlobal> = (<expression>)" and retrieves the
// result, using a scratch global since gopher-lua's public API does not
// expose a return-value-capturing expression evaluator.
func (e *Engine) evalRaw(expression string) (lua.LValue, error) {
	chunk := fmt.Sprintf("%s = (%s)", evalResultGlobal, expression)
	if err := e.L.DoString(chunk); err != nil {
		return lua.LNil, fmt.Errorf("%w: %v", debugger.ErrEvaluationFault, err)
	}
	v := e.L.GetGlobal(evalResultGlobal)
	e.L.SetGlobal(evalResultGlobal, lua.LNil)
	return v, nil
}

func luaTruthy(v lua.LValue) bool {
	if v == lua.LNil {
		return false
	}
	if b, ok := v.(lua.LBool); ok {
		return bool(b)
	}
	return true
}
