package debugger

import "errors"

// Errors for the debug-adapter core. Each maps to exactly one row of the
// error taxonomy; callers match with errors.Is, never by message text.
var (
	// ErrInvalidState is returned when a command's state-machine
	// precondition is violated (e.g. run() when not paused).
	ErrInvalidState = errors.New("debugger: invalid state for requested operation")

	// ErrUnknownHandle is returned when a variable reference is not in
	// the Variable Store.
	ErrUnknownHandle = errors.New("debugger: unknown variable handle")

	// ErrReadOnly is returned when setVariable targets a container that
	// does not support mutation.
	ErrReadOnly = errors.New("debugger: variable is read-only")

	// ErrUnknownSource is returned when a sourceId has not been
	// registered.
	ErrUnknownSource = errors.New("debugger: unknown source")

	// ErrDuplicateSource is returned by register() when sourceId is
	// already present.
	ErrDuplicateSource = errors.New("debugger: source already registered")

	// ErrNoBreakpointLocation is returned when no breakpointable
	// position exists at or after the requested location.
	ErrNoBreakpointLocation = errors.New("debugger: no breakpointable location")

	// ErrEvaluationFault wraps a failure evaluating a condition, log
	// message, or watch expression. The breakpoint hit that triggered it
	// is treated as non-breaking.
	ErrEvaluationFault = errors.New("debugger: evaluation fault")

	// ErrEngineFault wraps an uncaught script error or an engine-internal
	// failure. It is fatal to the session.
	ErrEngineFault = errors.New("debugger: engine fault")

	// ErrAlreadyAttached is returned by attach() when the controller is
	// already attached to the engine's callbacks.
	ErrAlreadyAttached = errors.New("debugger: already attached")

	// ErrCancelled is not a failure; it marks a session ended by
	// terminate().
	ErrCancelled = errors.New("debugger: cancelled")
)
