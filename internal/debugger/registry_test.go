package debugger

import (
	"errors"
	"testing"
)

func TestRegistryRegisterAndInfo(t *testing.T) {
	r := NewRegistry()
	positions := []Position{{Line: 3, Column: 0}, {Line: 1, Column: 0}, {Line: 2, Column: 0}, {Line: 1, Column: 0}}

	if err := r.Register("main.lua", "ast", positions); err != nil {
		t.Fatalf("Register: %v", err)
	}

	info := r.Info("main.lua")
	if info == nil {
		t.Fatal("expected Info to return registered script")
	}
	want := []Position{{Line: 1, Column: 0}, {Line: 2, Column: 0}, {Line: 3, Column: 0}}
	if len(info.Positions) != len(want) {
		t.Fatalf("Positions = %v, want %v", info.Positions, want)
	}
	for i := range want {
		if info.Positions[i] != want[i] {
			t.Errorf("Positions[%d] = %v, want %v", i, info.Positions[i], want[i])
		}
	}
}

func TestRegistryDuplicateSource(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("main.lua", nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("main.lua", nil, nil); !errors.Is(err, ErrDuplicateSource) {
		t.Fatalf("Register again = %v, want ErrDuplicateSource", err)
	}
}

func TestRegistrySnapBreakpointForwardFall(t *testing.T) {
	r := NewRegistry()
	positions := []Position{{Line: 1, Column: 0}, {Line: 5, Column: 0}}
	if err := r.Register("main.lua", nil, positions); err != nil {
		t.Fatal(err)
	}

	got, err := r.SnapBreakpoint("main.lua", Position{Line: 3, Column: 0})
	if err != nil {
		t.Fatalf("SnapBreakpoint: %v", err)
	}
	if got != (Position{Line: 5, Column: 0}) {
		t.Errorf("SnapBreakpoint = %v, want line 5", got)
	}
}

func TestRegistrySnapBreakpointExact(t *testing.T) {
	r := NewRegistry()
	positions := []Position{{Line: 1, Column: 0}, {Line: 2, Column: 0}}
	if err := r.Register("main.lua", nil, positions); err != nil {
		t.Fatal(err)
	}

	got, err := r.SnapBreakpoint("main.lua", Position{Line: 2, Column: 0})
	if err != nil {
		t.Fatalf("SnapBreakpoint: %v", err)
	}
	if got != (Position{Line: 2, Column: 0}) {
		t.Errorf("SnapBreakpoint = %v, want line 2", got)
	}
}

func TestRegistrySnapBreakpointNoLocation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("main.lua", nil, []Position{{Line: 1, Column: 0}}); err != nil {
		t.Fatal(err)
	}

	if _, err := r.SnapBreakpoint("main.lua", Position{Line: 2, Column: 0}); !errors.Is(err, ErrNoBreakpointLocation) {
		t.Fatalf("SnapBreakpoint = %v, want ErrNoBreakpointLocation", err)
	}
}

func TestRegistrySnapBreakpointUnknownSource(t *testing.T) {
	r := NewRegistry()
	if _, err := r.SnapBreakpoint("missing.lua", Position{Line: 1}); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("SnapBreakpoint = %v, want ErrUnknownSource", err)
	}
}
