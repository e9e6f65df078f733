package dap

import (
	"errors"

	"github.com/dshills/luadap/internal/debugger"
)

// code is a stable DAP error identifier, carried in an error response's
// body.error.id so a client can branch on it without string-matching
// body.error.format.
type code int

const (
	codeProcessing code = iota
	codeUnknownCommand
	codeMalformedArguments
	codeInvalidState
	codeUnknownHandle
	codeUnknownSource
	codeNoBreakpointLocation
	codeEvaluationFault
	codeEngineFault
)

func (c code) String() string {
	return []string{
		"Processing error",
		"Unknown command",
		"Malformed arguments",
		"Invalid state",
		"Unknown variable reference",
		"Unknown source",
		"No breakpointable location",
		"Evaluation fault",
		"Engine fault",
	}[c]
}

// codeFor classifies err against the debugger package's sentinel taxonomy
// (SPEC_FULL.md §7) so every handler maps errors the same way instead of
// scattering errors.Is checks through the request dispatch table.
func codeFor(err error) code {
	switch {
	case errors.Is(err, debugger.ErrInvalidState):
		return codeInvalidState
	case errors.Is(err, debugger.ErrUnknownHandle):
		return codeUnknownHandle
	case errors.Is(err, debugger.ErrUnknownSource):
		return codeUnknownSource
	case errors.Is(err, debugger.ErrNoBreakpointLocation):
		return codeNoBreakpointLocation
	case errors.Is(err, debugger.ErrEvaluationFault):
		return codeEvaluationFault
	case errors.Is(err, debugger.ErrEngineFault):
		return codeEngineFault
	default:
		return codeProcessing
	}
}
