// Package debugger implements the execution-control core of the debug
// adapter: the state machine, breakpoint evaluation, and variable-handle
// registry that sit between a script engine's per-statement callbacks and
// a DAP client's pause/continue/step commands.
//
// The package is deliberately engine-agnostic and transport-agnostic. It
// depends on no concrete scripting runtime and no concrete wire protocol;
// both are plugged in by the caller (see internal/script for the gopher-lua
// adapter and internal/dap for the DAP session that drives a Controller).
//
//	engine callbacks  --->  Controller  <---  client commands (via DAP session)
//	                         |      |
//	                    Registry  Breakpoints, VariableStore
//
// A Controller owns exactly one session: one state machine, one resume
// channel, one breakpoint table, one variable store. Nothing here is a
// process-wide singleton.
package debugger
