package debugger

import (
	"fmt"
	"sync"
)

// containerKind tags which of the four VariableContainer variants a
// handle refers to.
type containerKind int

const (
	containerScope containerKind = iota
	containerObject
	containerArrayLike
	containerProperty
)

// VariableContainer is the stored payload behind a variable handle. It
// is one of Scope, Object, ArrayLike, or Property — never a class
// hierarchy; dispatch is the switch in Children/Set/Expand below.
type VariableContainer struct {
	kind  containerKind
	ref   ContainerRef // set for Scope, Object, ArrayLike
	frame *Frame       // set for Scope only

	// Property-only fields.
	propName  string
	propOwner ContainerRef
	getter    GetterFunc
}

// Store is the monotonic registry of variable handles: scopes, generic
// objects, array-likes, and lazy property descriptors. Handles are never
// reused within a session; 0 is reserved for "not inspectable".
type Store struct {
	mu      sync.Mutex
	next    int
	handles map[int]*VariableContainer
}

// NewStore creates an empty Variable Store.
func NewStore() *Store {
	return &Store{handles: make(map[int]*VariableContainer)}
}

func (s *Store) alloc(c *VariableContainer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.handles[s.next] = c
	return s.next
}

// AddScope registers a scope's container, optionally associated with a
// call frame, and returns its handle.
func (s *Store) AddScope(ref ContainerRef, frame *Frame) int {
	return s.alloc(&VariableContainer{kind: containerScope, ref: ref, frame: frame})
}

// AddObject registers a generic object container and returns a fresh
// handle. Two calls on the same underlying object yield distinct
// handles — handles are container identities, not value identities.
func (s *Store) AddObject(ref ContainerRef) int {
	return s.alloc(&VariableContainer{kind: containerObject, ref: ref})
}

// AddArrayLike registers an array-like container and returns its handle.
func (s *Store) AddArrayLike(ref ContainerRef) int {
	return s.alloc(&VariableContainer{kind: containerArrayLike, ref: ref})
}

// AddProperty registers a lazy property descriptor's getter and returns
// its handle. The getter is not invoked until Expand is called on this
// handle.
func (s *Store) AddProperty(name string, owner ContainerRef, getter GetterFunc) int {
	return s.alloc(&VariableContainer{kind: containerProperty, propName: name, propOwner: owner, getter: getter})
}

// Get returns the container behind handle. Fails with ErrUnknownHandle
// if handle was never allocated (or is 0).
func (s *Store) Get(handle int) (*VariableContainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.handles[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	return c, nil
}

// Children enumerates handle's members as materialized ValueInfo,
// allocating fresh handles for any expandable child. Fails with
// ErrUnknownHandle if handle is unknown, and wraps any error from
// expanding a Property handle.
func (s *Store) Children(handle int) ([]ValueInfo, error) {
	c, err := s.Get(handle)
	if err != nil {
		return nil, err
	}

	switch c.kind {
	case containerProperty:
		v, err := s.Expand(handle)
		if err != nil {
			return nil, err
		}
		return []ValueInfo{v}, nil
	default:
		if c.ref == nil {
			return nil, nil
		}
		children := c.ref.Children()
		out := make([]ValueInfo, 0, len(children))
		for _, d := range children {
			out = append(out, s.CreateValueFromDescriptor(d, c.ref))
		}
		return out, nil
	}
}

// Expand runs a Property handle's getter and materializes the result.
// Calling Expand again re-runs the getter —
// the reference does not cache getter results across expansions, since
// the underlying value may have changed.
func (s *Store) Expand(handle int) (ValueInfo, error) {
	c, err := s.Get(handle)
	if err != nil {
		return ValueInfo{}, err
	}
	if c.kind != containerProperty {
		return ValueInfo{}, fmt.Errorf("%w: handle %d is not a lazy property", ErrInvalidState, handle)
	}

	sv, err := c.getter()
	if err != nil {
		return ValueInfo{}, fmt.Errorf("%w: %v", ErrEvaluationFault, err)
	}
	return s.CreateValue(c.propName, sv), nil
}

// SetVariable dispatches to parentHandle's container Set operation and
// re-materializes the result for display. Fails with ErrUnknownHandle or
// ErrReadOnly.
func (s *Store) SetVariable(parentHandle int, name, newValue string) (ValueInfo, error) {
	c, err := s.Get(parentHandle)
	if err != nil {
		return ValueInfo{}, err
	}
	if c.ref == nil {
		return ValueInfo{}, fmt.Errorf("%w: handle %d", ErrReadOnly, parentHandle)
	}

	sv, err := c.ref.Set(name, newValue)
	if err != nil {
		return ValueInfo{}, err
	}
	return s.CreateValue(name, sv), nil
}

// Clear discards every handle. Called at session end.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = make(map[int]*VariableContainer)
	s.next = 0
}

// CreateValue materializes a ScriptValue into a tagged ValueInfo,
// registering a fresh handle for Array and Object kinds. This is the
// engine-neutral half of value materialization described in
// SPEC_FULL.md §4.3.
func (s *Store) CreateValue(name string, sv ScriptValue) ValueInfo {
	switch sv.Kind {
	case ScriptNil:
		return ValueInfo{Name: name, Kind: ValueNull}
	case ScriptPrimitive:
		return ValueInfo{Name: name, Kind: ValuePrimitive, Display: sv.Display, Type: sv.Type}
	case ScriptFunction:
		return ValueInfo{Name: name, Kind: ValueFunction, Display: sv.Display, Type: sv.Type}
	case ScriptArray:
		return ValueInfo{Name: name, Kind: ValueArray, Handle: s.AddArrayLike(sv.Container), Type: sv.Type}
	default: // ScriptObject
		return ValueInfo{Name: name, Kind: ValueObject, Handle: s.AddObject(sv.Container), Type: sv.Type}
	}
}

// CreateValueFromDescriptor is createValue's other overload: if d
// carries a getter, the getter is never invoked here — a Property
// handle is registered and a Getter value returned instead, and the
// getter runs only when that handle is later expanded.
func (s *Store) CreateValueFromDescriptor(d PropertyDescriptor, owner ContainerRef) ValueInfo {
	if d.IsGetter {
		handle := s.AddProperty(d.Name, owner, d.Getter)
		return ValueInfo{Name: d.Name, Kind: ValueGetter, Handle: handle}
	}
	return s.CreateValue(d.Name, d.Value)
}
