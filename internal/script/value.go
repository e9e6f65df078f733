package script

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luadap/internal/debugger"
)

// toScriptValue classifies a Lua value into the engine-neutral ScriptValue
// shape the Variable Store materializes.
func (e *Engine) toScriptValue(v lua.LValue) debugger.ScriptValue {
	switch val := v.(type) {
	case *lua.LNilType:
		return debugger.ScriptValue{Kind: debugger.ScriptNil, Type: "nil", Display: "nil"}
	case lua.LBool:
		return debugger.ScriptValue{Kind: debugger.ScriptPrimitive, Type: "boolean", Display: fmt.Sprintf("%t", bool(val))}
	case lua.LNumber:
		return debugger.ScriptValue{Kind: debugger.ScriptPrimitive, Type: "number", Display: val.String()}
	case lua.LString:
		return debugger.ScriptValue{Kind: debugger.ScriptPrimitive, Type: "string", Display: string(val)}
	case *lua.LFunction:
		return debugger.ScriptValue{Kind: debugger.ScriptFunction, Type: "function", Display: "function"}
	case *lua.LTable:
		kind := debugger.ScriptObject
		if isArrayTable(val) {
			kind = debugger.ScriptArray
		}
		return debugger.ScriptValue{Kind: kind, Type: "table", Container: &tableContainer{e: e, t: val}}
	default:
		return debugger.ScriptValue{Kind: debugger.ScriptObject, Type: v.Type().String(), Display: v.String()}
	}
}

// isArrayTable reports whether t's keys are a contiguous 1..N integer
// sequence, the same heuristic the plugin bridge uses to distinguish
// Lua's single table type into Go arrays vs. maps.
func isArrayTable(t *lua.LTable) bool {
	maxN := 0
	count := 0
	ok := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		n, isNum := k.(lua.LNumber)
		if !isNum || float64(int(n)) != float64(n) || int(n) <= 0 {
			ok = false
			return
		}
		if int(n) > maxN {
			maxN = int(n)
		}
	})
	return ok && maxN > 0 && maxN == count
}

// toDescriptor builds a PropertyDescriptor for a table entry, recognizing
// the {__isGetter=true, __get=function() ... end} lazy-getter convention:
// such entries never have their value materialized here, only on a later
// explicit Expand.
func (e *Engine) toDescriptor(name string, v lua.LValue) debugger.PropertyDescriptor {
	if t, ok := v.(*lua.LTable); ok {
		if flag, ok := t.RawGetString("__isGetter").(lua.LBool); ok && bool(flag) {
			if fn, ok := t.RawGetString("__get").(*lua.LFunction); ok {
				return debugger.PropertyDescriptor{
					Name:     name,
					IsGetter: true,
					Getter:   func() (debugger.ScriptValue, error) { return e.callGetter(fn) },
				}
			}
		}
	}
	return debugger.PropertyDescriptor{Name: name, Value: e.toScriptValue(v)}
}

func (e *Engine) callGetter(fn *lua.LFunction) (debugger.ScriptValue, error) {
	e.L.Push(fn)
	if err := e.L.PCall(0, 1, nil); err != nil {
		return debugger.ScriptValue{}, fmt.Errorf("%w: %v", debugger.ErrEvaluationFault, err)
	}
	v := e.L.Get(-1)
	e.L.Pop(1)
	return e.toScriptValue(v), nil
}

// tableContainer wraps a *lua.LTable as a debugger.ContainerRef, serving
// both array-like and generic object handles, plus the Globals scope.
type tableContainer struct {
	e *Engine
	t *lua.LTable
}

func (c *tableContainer) Children() []debugger.PropertyDescriptor {
	if c.t == nil {
		return nil
	}
	var descs []debugger.PropertyDescriptor
	c.t.ForEach(func(k, v lua.LValue) {
		descs = append(descs, c.e.toDescriptor(k.String(), v))
	})
	return descs
}

func (c *tableContainer) Set(name, literal string) (debugger.ScriptValue, error) {
	v, err := c.e.evalRaw(literal)
	if err != nil {
		return debugger.ScriptValue{}, err
	}
	c.e.L.SetField(c.t, name, v)
	return c.e.toScriptValue(v), nil
}

// localsContainer enumerates a frame's local variables via gopher-lua's
// debug-introspection GetLocal primitive. GetLocal takes the *lua.Debug
// captured for the frame at hook time (the call-stack record, not a bare
// depth number), mirroring the C Lua debug API's lua_getlocal(L, ar, n).
// Locals cannot be set by name through that same surface, so Set always
// fails with ErrReadOnly; clients needing to mutate state use a Globals
// or table handle instead.
type localsContainer struct {
	e   *Engine
	dbg *lua.Debug
}

func (c *localsContainer) Children() []debugger.PropertyDescriptor {
	if c.dbg == nil {
		return nil
	}
	var descs []debugger.PropertyDescriptor
	for i := 1; ; i++ {
		name, v := c.e.L.GetLocal(c.dbg, i)
		if name == "" {
			break
		}
		if strings.HasPrefix(name, "(") {
			continue // gopher-lua's anonymous internal temporaries
		}
		descs = append(descs, c.e.toDescriptor(name, v))
	}
	return descs
}

func (c *localsContainer) Set(name, literal string) (debugger.ScriptValue, error) {
	return debugger.ScriptValue{}, fmt.Errorf("%w: local variable %q", debugger.ErrReadOnly, name)
}
