package script

import (
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/luadap/internal/debugger"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New()
	t.Cleanup(e.Close)
	return e
}

func TestToScriptValuePrimitives(t *testing.T) {
	e := newTestEngine(t)

	cases := []struct {
		name string
		v    lua.LValue
		kind debugger.ScriptKind
		typ  string
	}{
		{"nil", lua.LNil, debugger.ScriptNil, "nil"},
		{"bool", lua.LBool(true), debugger.ScriptPrimitive, "boolean"},
		{"number", lua.LNumber(42), debugger.ScriptPrimitive, "number"},
		{"string", lua.LString("hi"), debugger.ScriptPrimitive, "string"},
	}

	for _, tc := range cases {
		sv := e.toScriptValue(tc.v)
		if sv.Kind != tc.kind || sv.Type != tc.typ {
			t.Errorf("%s: toScriptValue = %+v, want kind=%v type=%s", tc.name, sv, tc.kind, tc.typ)
		}
	}
}

func TestToScriptValueArrayVsObjectTable(t *testing.T) {
	e := newTestEngine(t)

	arr := e.L.NewTable()
	arr.Append(lua.LNumber(1))
	arr.Append(lua.LNumber(2))
	if sv := e.toScriptValue(arr); sv.Kind != debugger.ScriptArray {
		t.Fatalf("array table classified as %v, want ScriptArray", sv.Kind)
	}

	obj := e.L.NewTable()
	obj.RawSetString("x", lua.LNumber(1))
	if sv := e.toScriptValue(obj); sv.Kind != debugger.ScriptObject {
		t.Fatalf("map-shaped table classified as %v, want ScriptObject", sv.Kind)
	}
}

func TestTableContainerChildrenAndSet(t *testing.T) {
	e := newTestEngine(t)

	tbl := e.L.NewTable()
	tbl.RawSetString("x", lua.LNumber(1))
	c := &tableContainer{e: e, t: tbl}

	children := c.Children()
	if len(children) != 1 || children[0].Name != "x" {
		t.Fatalf("Children = %+v, want one entry named x", children)
	}

	sv, err := c.Set("y", "2")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if sv.Display != "2" {
		t.Fatalf("Set result = %+v, want Display 2", sv)
	}
	if got := tbl.RawGetString("y"); got.String() != "2" {
		t.Fatalf("table field y = %v, want 2", got)
	}
}

func TestToDescriptorRecognizesLazyGetterConvention(t *testing.T) {
	e := newTestEngine(t)

	getterTable := e.L.NewTable()
	getterTable.RawSetString("__isGetter", lua.LBool(true))
	getterTable.RawSetString("__get", e.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(99))
		return 1
	}))

	desc := e.toDescriptor("lazy", getterTable)
	if !desc.IsGetter || desc.Getter == nil {
		t.Fatalf("toDescriptor = %+v, want IsGetter with a Getter func", desc)
	}

	sv, err := desc.Getter()
	if err != nil {
		t.Fatalf("Getter: %v", err)
	}
	if sv.Display != "99" {
		t.Fatalf("Getter result = %+v, want Display 99", sv)
	}
}

func TestLocalsContainerSetIsReadOnly(t *testing.T) {
	e := newTestEngine(t)
	c := &localsContainer{e: e, dbg: nil}
	if _, err := c.Set("x", "1"); err == nil {
		t.Fatal("expected ErrReadOnly when setting a local by name")
	}
}
