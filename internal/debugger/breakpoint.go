package debugger

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Breakpoint is one entry of the Breakpoint Table.
type Breakpoint struct {
	ID           int
	SourceID     string
	Pos          Position
	Condition    string // expression evaluated by the script engine
	HitCondition string // predicate over the running hit count
	LogMessage   string // expression evaluated by the script engine
	HitCount     int
}

func breakpointKey(sourceID string, pos Position) string {
	return sourceID + "\x00" + pos.String()
}

// HitResult is the outcome of evaluating a breakpoint hit.
type HitResult int

const (
	// HitNone means execution should not suspend.
	HitNone HitResult = iota
	// HitLog means a log message was emitted; execution should not
	// suspend.
	HitLog
	// HitBreak means execution should suspend.
	HitBreak
)

// Evaluator evaluates a script expression in the currently paused frame,
// for breakpoint conditions, log messages, and watch expressions. This is
// the engine collaborator's evaluate(expression, currentFrame) from the
// distilled spec.
type Evaluator interface {
	// Evaluate returns the display string for expression, for log
	// messages and client watch expressions.
	Evaluate(expression string, frame *Frame) (string, error)
	// EvaluateBool evaluates expression and applies the engine's
	// truthiness rules, for breakpoint conditions.
	EvaluateBool(expression string, frame *Frame) (bool, error)
}

// Table is the owned collection of breakpoint records, indexed by
// (SourceId, Position).
type Table struct {
	mu           sync.Mutex
	bySourcePos  map[string]*Breakpoint
	nextID       int
	hitPredicate map[string]*vm.Program // compiled hitCondition cache
}

// NewTable creates an empty Breakpoint Table.
func NewTable() *Table {
	return &Table{
		bySourcePos:  make(map[string]*Breakpoint),
		hitPredicate: make(map[string]*vm.Program),
	}
}

// Set inserts bp, overwriting any existing breakpoint at the same
// (SourceID, Pos) coordinates. It is always given a fresh ID (any ID the
// caller set is replaced) and its HitCount is reset to zero.
func (t *Table) Set(bp Breakpoint) (Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if bp.HitCondition != "" {
		if _, err := t.compileHitCondition(bp.HitCondition); err != nil {
			return Breakpoint{}, fmt.Errorf("%w: hitCondition %q: %v", ErrEvaluationFault, bp.HitCondition, err)
		}
	}

	t.nextID++
	bp.ID = t.nextID
	bp.HitCount = 0

	key := breakpointKey(bp.SourceID, bp.Pos)
	t.bySourcePos[key] = &bp
	return bp, nil
}

// Clear removes every breakpoint from the table.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bySourcePos = make(map[string]*Breakpoint)
}

// ClearSource removes every breakpoint registered for sourceID, leaving
// breakpoints in other sources untouched. DAP clients resend the full
// desired breakpoint set per source on every setBreakpoints request, so
// the session controller clears per-source rather than diffing.
func (t *Table) ClearSource(sourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, bp := range t.bySourcePos {
		if bp.SourceID == sourceID {
			delete(t.bySourcePos, key)
		}
	}
}

// Lookup returns the breakpoint at (sourceID, pos), or nil if none is
// set there.
func (t *Table) Lookup(sourceID string, pos Position) *Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	bp, ok := t.bySourcePos[breakpointKey(sourceID, pos)]
	if !ok {
		return nil
	}
	cp := *bp
	return &cp
}

// LinesForSource returns the set of breakpointed lines for sourceID, for
// mirroring onto the script engine (see Engine.SetBreakpointLines).
func (t *Table) LinesForSource(sourceID string) map[int]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := make(map[int]struct{})
	for _, bp := range t.bySourcePos {
		if bp.SourceID == sourceID {
			lines[bp.Pos.Line] = struct{}{}
		}
	}
	return lines
}

// Hit evaluates the breakpoint at (sourceID, pos) per the normative
// procedure: increment hitCount, test condition, test hitCondition, then
// test and emit logMessage, in that order. The returned message is
// non-empty only when result is HitLog.
//
// The distilled five-step procedure this is grounded on does not mention
// Breakpoint.Condition explicitly, even though Condition is part of the
// data model and scenario 2 (conditional-breakpoint-not-met) exercises
// it; this implementation resolves that gap by gating on Condition right
// after incrementing hitCount and before the hitCondition check, since a
// plain conditional breakpoint with no hitCondition must otherwise never
// be able to suppress a hit (see DESIGN.md).
func (t *Table) Hit(sourceID string, pos Position, eval Evaluator, frame *Frame) (HitResult, string, error) {
	t.mu.Lock()
	bp, ok := t.bySourcePos[breakpointKey(sourceID, pos)]
	if !ok {
		t.mu.Unlock()
		return HitNone, "", nil
	}
	bp.HitCount++
	hitCount := bp.HitCount
	condition := bp.Condition
	hitCondition := bp.HitCondition
	logMessage := bp.LogMessage
	t.mu.Unlock()

	if condition != "" {
		ok, err := eval.EvaluateBool(condition, frame)
		if err != nil {
			return HitNone, "", fmt.Errorf("%w: %v", ErrEvaluationFault, err)
		}
		if !ok {
			return HitNone, "", nil
		}
	}

	if hitCondition != "" {
		met, err := t.evalHitCondition(hitCondition, hitCount)
		if err != nil {
			return HitNone, "", fmt.Errorf("%w: %v", ErrEvaluationFault, err)
		}
		if !met {
			return HitNone, "", nil
		}
	}

	if logMessage != "" {
		msg, err := eval.Evaluate(logMessage, frame)
		if err != nil {
			return HitNone, "", fmt.Errorf("%w: %v", ErrEvaluationFault, err)
		}
		return HitLog, msg, nil
	}

	return HitBreak, "", nil
}

// compileHitCondition translates the hitCondition grammar documented in
// SPEC_FULL.md into an expr-lang boolean expression over a "hitCount"
// variable and compiles it, caching the program by source text. A small,
// side-effect-free expression library is used here deliberately: a
// hit-count gate must never be able to block or mutate script state, so
// it is never handed to the script engine.
func (t *Table) compileHitCondition(condition string) (*vm.Program, error) {
	if prog, ok := t.hitPredicate[condition]; ok {
		return prog, nil
	}

	exprText, err := translateHitCondition(condition)
	if err != nil {
		return nil, err
	}

	prog, err := expr.Compile(exprText, expr.Env(map[string]int{"hitCount": 0}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	t.hitPredicate[condition] = prog
	return prog, nil
}

func (t *Table) evalHitCondition(condition string, hitCount int) (bool, error) {
	t.mu.Lock()
	prog, ok := t.hitPredicate[condition]
	t.mu.Unlock()
	if !ok {
		var err error
		t.mu.Lock()
		prog, err = t.compileHitCondition(condition)
		t.mu.Unlock()
		if err != nil {
			return false, err
		}
	}

	out, err := expr.Run(prog, map[string]int{"hitCount": hitCount})
	if err != nil {
		return false, err
	}
	met, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("hitCondition did not evaluate to a boolean")
	}
	return met, nil
}

// translateHitCondition parses "[cmp] N" (cmp in >=, <=, ==, >, <, % ;
// defaulting to >= when only an integer is given) into an expr-lang
// expression comparing hitCount against N.
func translateHitCondition(condition string) (string, error) {
	text := strings.TrimSpace(condition)

	for _, cmp := range []string{">=", "<=", "==", ">", "<", "%"} {
		if strings.HasPrefix(text, cmp) {
			operand := strings.TrimSpace(text[len(cmp):])
			n, err := strconv.Atoi(operand)
			if err != nil {
				return "", fmt.Errorf("invalid hitCondition operand %q: %w", operand, err)
			}
			if cmp == "%" {
				return fmt.Sprintf("hitCount %% %d == 0", n), nil
			}
			return fmt.Sprintf("hitCount %s %d", cmp, n), nil
		}
	}

	n, err := strconv.Atoi(text)
	if err != nil {
		return "", fmt.Errorf("invalid hitCondition %q", condition)
	}
	return fmt.Sprintf("hitCount >= %d", n), nil
}
