package script

import "errors"

// ErrCompile is returned when a source string fails to parse.
var ErrCompile = errors.New("script: compile error")
