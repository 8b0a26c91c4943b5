package ecs

import (
	"iter"
	"reflect"

	"github.com/rotisserie/eris"
)

type TypedStore interface {
	Type() reflect.Type
	New() any
	Has(e Entity) bool
	AddRaw(e Entity, value any) (any, error)
	GetRaw(e Entity) (any, bool)
	Remove(e Entity)
	SetEnabled(e Entity, enabled bool) (changed bool)
	IsEnabled(e Entity) bool
	Entities() iter.Seq[Entity]
	Len() int
}

// Store is a sparse set of T. Values are held by pointer so that references
// handed out stay valid while other entities come and go.
type Store[T any] struct {
	typ     reflect.Type
	sparse  map[Entity]int
	dense   []Entity
	data    []*T
	enabled []bool
}

func newStore[T any]() *Store[T] {
	return &Store[T]{
		typ:    reflect.TypeFor[T](),
		sparse: make(map[Entity]int),
	}
}

func (s *Store[T]) Type() reflect.Type {
	return s.typ
}

func (s *Store[T]) New() any {
	return new(T)
}

func (s *Store[T]) Has(e Entity) bool {
	_, ok := s.sparse[e]
	return ok
}

func (s *Store[T]) AddRaw(e Entity, value any) (any, error) {
	var ptr *T
	switch v := value.(type) {
	case *T:
		ptr = v
	case T:
		ptr = &v
	default:
		return nil, eris.Errorf("store %s cannot hold %T", s.typ, value)
	}
	s.add(e, ptr)
	return ptr, nil
}

func (s *Store[T]) add(e Entity, ptr *T) {
	if s.Has(e) {
		return
	}
	s.sparse[e] = len(s.data)
	s.data = append(s.data, ptr)
	s.dense = append(s.dense, e)
	s.enabled = append(s.enabled, true)
}

func (s *Store[T]) Remove(e Entity) {
	idx, exists := s.sparse[e]
	if !exists {
		return
	}

	lastIndex := len(s.data) - 1
	lastEntity := s.dense[lastIndex]

	if idx != lastIndex {
		s.data[idx] = s.data[lastIndex]
		s.dense[idx] = lastEntity
		s.enabled[idx] = s.enabled[lastIndex]
		s.sparse[lastEntity] = idx
	}

	s.data[lastIndex] = nil
	s.data = s.data[:lastIndex]
	s.dense = s.dense[:lastIndex]
	s.enabled = s.enabled[:lastIndex]

	delete(s.sparse, e)
}

func (s *Store[T]) Get(e Entity) (*T, bool) {
	idx, ok := s.sparse[e]
	if !ok {
		return nil, false
	}
	return s.data[idx], true
}

func (s *Store[T]) GetRaw(e Entity) (any, bool) {
	ptr, ok := s.Get(e)
	if !ok {
		return nil, false
	}
	return ptr, true
}

func (s *Store[T]) SetEnabled(e Entity, enabled bool) bool {
	idx, ok := s.sparse[e]
	if !ok || s.enabled[idx] == enabled {
		return false
	}
	s.enabled[idx] = enabled
	return true
}

func (s *Store[T]) IsEnabled(e Entity) bool {
	idx, ok := s.sparse[e]
	return ok && s.enabled[idx]
}

func (s *Store[T]) Entities() iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		for _, e := range s.dense {
			if !yield(e) {
				return
			}
		}
	}
}

func (s *Store[T]) Len() int {
	return len(s.dense)
}
