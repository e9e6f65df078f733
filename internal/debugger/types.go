package debugger

import "fmt"

// Position is a breakpointable source location. Column is 0 for engines
// (such as Lua) that only track line granularity.
type Position struct {
	Line   int
	Column int
}

// Less reports whether p sorts before q.
func (p Position) Less(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Column < q.Column
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// State is the debugger's state machine, driven by the engine's
// per-statement callbacks and by client commands.
type State int

const (
	StateWaitingForUI State = iota
	StateEntering
	StateRunning
	StatePausing
	StateStepping
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateWaitingForUI:
		return "WaitingForUI"
	case StateEntering:
		return "Entering"
	case StateRunning:
		return "Running"
	case StatePausing:
		return "Pausing"
	case StateStepping:
		return "Stepping"
	case StateTerminating:
		return "Terminating"
	default:
		return "Unknown"
	}
}

// StepIntent is both the directive a client command hands to a paused
// interpreter on resume, and the step mode a step/break callback hands
// back to the engine — the two are the same four-value enum (see
// pause()'s 1:1 mapping in the Controller).
type StepIntent int

const (
	StepNone StepIntent = iota
	StepOver
	StepInto
	StepOut
)

func (s StepIntent) String() string {
	switch s {
	case StepNone:
		return "None"
	case StepOver:
		return "Over"
	case StepInto:
		return "Into"
	case StepOut:
		return "Out"
	default:
		return "Unknown"
	}
}

// StopReason is why the interpreter suspended.
type StopReason string

const (
	ReasonEntry             StopReason = "entry"
	ReasonStep              StopReason = "step"
	ReasonPause             StopReason = "pause"
	ReasonBreakpoint        StopReason = "breakpoint"
	ReasonDebuggerStatement StopReason = "debugger_statement"
	ReasonException        StopReason = "exception"
)

// BreakKind distinguishes the two flavors of break callback the engine
// delivers.
type BreakKind int

const (
	BreakAtBreakpoint BreakKind = iota
	BreakAtDebuggerStatement
)

// Frame is one entry of a paused call stack.
type Frame struct {
	ID       int
	Name     string
	SourceID string
	Line     int
	Column   int
	Scope    ContainerRef // locals/upvalues visible in this frame, or nil
}

// DebugInformation is the snapshot taken when the interpreter suspends.
// It is valid only for the duration of the pause it was captured during.
type DebugInformation struct {
	Reason          StopReason
	CurrentLocation Position
	SourceID        string
	Frames          []Frame
	Exception       error
}

// ValueKind tags the closed union of materialized value shapes. There is
// no class hierarchy here; dispatch is two switch statements (createValue,
// and container.Children for expansion), matching the reference's tagged
// union rather than a polymorphic value type.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValuePrimitive
	ValueArray
	ValueFunction
	ValueObject
	ValueGetter
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValuePrimitive:
		return "primitive"
	case ValueArray:
		return "array"
	case ValueFunction:
		return "function"
	case ValueObject:
		return "object"
	case ValueGetter:
		return "getter"
	default:
		return "unknown"
	}
}

// ValueInfo is a materialized value ready for display: either a literal
// (Display/Type) or a handle into the Variable Store for anything
// expandable (Array, Object, Getter).
type ValueInfo struct {
	Name    string
	Kind    ValueKind
	Display string
	Type    string
	Handle  int
}

// ScriptValue is the script engine collaborator's neutral description of
// a runtime value, built by the engine adapter and handed to the Variable
// Store for materialization. The debugger core never inspects an engine's
// native value representation directly.
type ScriptValue struct {
	Kind      ScriptKind
	Display   string
	Type      string
	Container ContainerRef // non-nil for table values (ScriptArray, or ScriptObject from a table); nil otherwise
}

// ScriptKind is the engine-side classification of a ScriptValue, mapped
// 1:1 onto ValueKind by the Variable Store except that getters are never
// produced here — they only arise from PropertyDescriptor during
// enumeration (see CreateValueFromDescriptor).
type ScriptKind int

const (
	ScriptNil ScriptKind = iota
	ScriptPrimitive
	ScriptArray
	ScriptFunction
	ScriptObject
)

// ContainerRef is an engine-provided handle to an inspectable container:
// a scope's locals, a table, an array-like table. The debugger core
// stores these opaquely and only calls back into them to enumerate or
// mutate members.
type ContainerRef interface {
	// Children enumerates this container's named members.
	Children() []PropertyDescriptor
	// Set assigns name to the value produced by evaluating literal in the
	// engine, returning the resulting materialized value. Fails with
	// ErrReadOnly if the container does not support mutation.
	Set(name, literal string) (ScriptValue, error)
}

// GetterFunc invokes a lazily-evaluated property getter. It must not be
// called except in response to an explicit client expansion of the
// handle it is attached to.
type GetterFunc func() (ScriptValue, error)

// PropertyDescriptor is one named member of a container, discovered
// during enumeration. A getter member carries Getter instead of Value;
// Getter is never invoked until the client expands the resulting handle.
type PropertyDescriptor struct {
	Name     string
	IsGetter bool
	Value    ScriptValue
	Getter   GetterFunc
}
