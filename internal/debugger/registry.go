package debugger

import (
	"fmt"
	"sort"
	"sync"
)

// ScriptInfo is the parsed metadata kept for a registered source: its
// opaque AST handle (meaningful only to the script engine) and the
// sorted, de-duplicated set of positions the engine will deliver a
// step/break callback at.
type ScriptInfo struct {
	SourceID  string
	AST       any
	Positions []Position
}

// Registry maps SourceId to ScriptInfo. It is populated once per source,
// on registration, and never mutated thereafter — callers may read
// concurrently without additional locking once register() returns, but
// the Registry still guards its map since register() itself can race
// against info()/snapBreakpoint() from another goroutine during startup.
type Registry struct {
	mu      sync.RWMutex
	scripts map[string]*ScriptInfo
}

// NewRegistry creates an empty Script Registry.
func NewRegistry() *Registry {
	return &Registry{scripts: make(map[string]*ScriptInfo)}
}

// Register admits sourceId for execution with the given AST handle and
// breakpointable positions. positions need not be pre-sorted. Fails with
// ErrDuplicateSource if sourceId is already present.
func (r *Registry) Register(sourceID string, ast any, positions []Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scripts[sourceID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, sourceID)
	}

	sorted := make([]Position, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	deduped := sorted[:0:0]
	for i, p := range sorted {
		if i == 0 || p != sorted[i-1] {
			deduped = append(deduped, p)
		}
	}

	r.scripts[sourceID] = &ScriptInfo{
		SourceID:  sourceID,
		AST:       ast,
		Positions: deduped,
	}
	return nil
}

// Info returns the registered metadata for sourceId, or nil if absent.
func (r *Registry) Info(sourceID string) *ScriptInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scripts[sourceID]
}

// SnapBreakpoint returns the least breakpointable position >= pos in
// sourceId's script. If none exists on the requested line, it falls
// forward to the next line's first breakpointable position. Fails with
// ErrUnknownSource if sourceId is not registered, or
// ErrNoBreakpointLocation if no breakpointable position exists at or
// after pos anywhere in the script.
func (r *Registry) SnapBreakpoint(sourceID string, pos Position) (Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.scripts[sourceID]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	idx := sort.Search(len(info.Positions), func(i int) bool {
		return !info.Positions[i].Less(pos)
	})
	if idx == len(info.Positions) {
		return Position{}, fmt.Errorf("%w: %s at or after %s", ErrNoBreakpointLocation, sourceID, pos)
	}
	return info.Positions[idx], nil
}
