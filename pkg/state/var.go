package state

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/shamaton/msgpack/v3"
)

// Slot is the type-erased view of a replicated variable.
type Slot interface {
	Dirty() bool
	Interpolate() bool
	Value() any
	// AppendValue appends the encoded current value to dst.
	AppendValue(dst []byte) ([]byte, error)
	// Apply decodes data into the slot as the authoritative value. It never
	// marks the slot dirty.
	Apply(data []byte) error

	bind(parent *ComponentState, authority bool)
	unbind()
	reset()
}

// Replicated is implemented by components that carry replicated variables.
// The index of a slot in the returned slice is its variable id.
type Replicated interface {
	NetVars() []Slot
}

// Var is a replicated value. It is meant to be embedded by value in a
// component struct and exposed through Replicated.
type Var[T comparable] struct {
	value       T
	lastSent    T
	dirty       bool
	interpolate bool

	parent    *ComponentState
	authority bool
}

func NewVar[T comparable](initial T) Var[T] {
	return Var[T]{value: initial, lastSent: initial}
}

// NewInterpolatedVar creates a Var hinted for interpolation. The hint only
// sticks for float32 and float64 values.
func NewInterpolatedVar[T comparable](initial T) Var[T] {
	v := NewVar(initial)
	v.SetInterpolate(true)
	return v
}

func (v *Var[T]) Get() T {
	return v.value
}

// Set stores value and recomputes dirtiness against the last sent value.
// On the authoritative side the owning component's dirty count follows.
func (v *Var[T]) Set(value T) {
	was := v.dirty
	v.value = value
	v.dirty = v.value != v.lastSent

	if !v.authority || v.parent == nil || was == v.dirty {
		return
	}
	if v.dirty {
		v.parent.numDirty++
	} else if v.parent.numDirty > 0 {
		v.parent.numDirty--
	}
}

func (v *Var[T]) SetInterpolate(on bool) {
	v.interpolate = on && isFloat[T]()
}

func (v *Var[T]) Dirty() bool {
	return v.dirty
}

func (v *Var[T]) Interpolate() bool {
	return v.interpolate
}

func (v *Var[T]) Value() any {
	return v.value
}

func (v *Var[T]) AppendValue(dst []byte) ([]byte, error) {
	b, err := msgpack.Marshal(v.value)
	if err != nil {
		return dst, eris.Wrapf(err, "encode %T", v.value)
	}
	return append(dst, b...), nil
}

func (v *Var[T]) Apply(data []byte) (err error) {
	// msgpack can panic on malformed input instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("decode %T: %v", v.value, r)
		}
	}()

	var value T
	if err := msgpack.Unmarshal(data, &value); err != nil {
		return eris.Wrapf(err, "decode %T", v.value)
	}
	v.value = value
	v.lastSent = value
	v.dirty = false
	return nil
}

func (v *Var[T]) String() string {
	return fmt.Sprint(v.value)
}

func (v *Var[T]) bind(parent *ComponentState, authority bool) {
	v.parent = parent
	v.authority = authority
	v.lastSent = v.value
	v.dirty = false
}

func (v *Var[T]) unbind() {
	v.parent = nil
}

func (v *Var[T]) reset() {
	v.lastSent = v.value
	v.dirty = false
}

func isFloat[T any]() bool {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return true
	}
	return false
}
