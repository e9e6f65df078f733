// Package script adapts a gopher-lua virtual machine to the engine
// collaborator contract internal/debugger expects: Compile, Attach/Detach,
// Run, breakpoint line mirroring, and expression evaluation while paused.
// Expressions run in the Lua global environment; the paused frame's locals
// are not in scope for them.
//
// The adapter owns exactly one *lua.LState per session. Lua code always
// runs on the goroutine that calls Run; debug-hook callbacks therefore
// call back into internal/debugger synchronously, on that same
// goroutine. Evaluate and EvaluateBool are the one exception: the
// session controller only calls them while the interpreter goroutine is
// parked inside a debug-hook callback waiting on the resume channel, so
// a second goroutine driving the same *lua.LState during that window
// does not race with it.
package script
