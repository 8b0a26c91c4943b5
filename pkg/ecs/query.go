package ecs

import (
	"iter"
	"reflect"
)

// Query1 yields every entity holding T. It iterates over a copy of the
// store's entity list, so components may be removed while iterating.
func Query1[T any](w *World) iter.Seq2[Entity, *T] {
	s, ok := storeFor[T](w)
	if !ok {
		return func(yield func(Entity, *T) bool) {}
	}
	return func(yield func(Entity, *T) bool) {
		for _, e := range snapshotEntities(s.dense) {
			v, ok := s.Get(e)
			if !ok {
				continue
			}
			if !yield(e, v) {
				return
			}
		}
	}
}

type Row2[T1, T2 any] struct {
	Entity Entity
	First  *T1
	Second *T2
}

// Query2 yields every entity holding both T1 and T2.
func Query2[T1, T2 any](w *World) iter.Seq[Row2[T1, T2]] {
	s1, ok1 := storeFor[T1](w)
	s2, ok2 := storeFor[T2](w)
	if !ok1 || !ok2 {
		return func(yield func(Row2[T1, T2]) bool) {}
	}

	return func(yield func(Row2[T1, T2]) bool) {
		for _, e := range snapshotEntities(s1.dense) {
			v1, ok := s1.Get(e)
			if !ok {
				continue
			}
			v2, ok := s2.Get(e)
			if !ok {
				continue
			}
			if !yield(Row2[T1, T2]{Entity: e, First: v1, Second: v2}) {
				return
			}
		}
	}
}

func snapshotEntities(dense []Entity) []Entity {
	out := make([]Entity, len(dense))
	copy(out, dense)
	return out
}

func typeOfComponent(v any) reflect.Type {
	if t, ok := v.(reflect.Type); ok {
		return t
	}
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
