// Package ecs is a small sparse-set entity component store. It owns the
// simulation state that netsync replicates and reports every structural
// change through its event bus.
//
// A World is not safe for concurrent use.
package ecs

import (
	"iter"
	"reflect"
	"slices"

	"github.com/rotisserie/eris"
)

type Entity uint32

// Nil is never handed out by CreateEntity.
const Nil Entity = 0

var (
	ErrEntityNotFound        = eris.New("entity does not exist")
	ErrComponentNotFound     = eris.New("entity has no such component")
	ErrUnregisteredComponent = eris.New("component type is not registered")
	ErrComponentExists       = eris.New("entity already has component")
)

type entityRecord struct {
	enabled    bool
	components []reflect.Type
}

type World struct {
	next     Entity
	entities map[Entity]*entityRecord
	order    []Entity
	stores   map[reflect.Type]TypedStore
	bus      *EventBus
	commands *CommandBuffer
}

func NewWorld() *World {
	return &World{
		next:     1,
		entities: make(map[Entity]*entityRecord),
		stores:   make(map[reflect.Type]TypedStore),
		bus:      &EventBus{},
		commands: &CommandBuffer{},
	}
}

func (w *World) Events() *EventBus {
	return w.bus
}

func (w *World) CreateEntity() Entity {
	e := w.next
	w.next++
	w.entities[e] = &entityRecord{enabled: true}
	w.order = append(w.order, e)
	Publish(w.bus, EntityCreated{Entity: e})
	return e
}

// Destroy removes every component of e, newest first, then e itself.
func (w *World) Destroy(e Entity) error {
	rec, ok := w.entities[e]
	if !ok {
		return eris.Wrapf(ErrEntityNotFound, "entity %d", e)
	}
	for len(rec.components) > 0 {
		typ := rec.components[len(rec.components)-1]
		if err := w.RemoveRaw(e, typ); err != nil {
			return err
		}
	}
	delete(w.entities, e)
	if i := slices.Index(w.order, e); i >= 0 {
		w.order = slices.Delete(w.order, i, i+1)
	}
	Publish(w.bus, EntityDestroyed{Entity: e})
	return nil
}

func (w *World) Alive(e Entity) bool {
	_, ok := w.entities[e]
	return ok
}

// Entities yields live entities in creation order.
func (w *World) Entities() iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		for _, e := range w.order {
			if !yield(e) {
				return
			}
		}
	}
}

func (w *World) Len() int {
	return len(w.order)
}

func (w *World) SetEnabled(e Entity, enabled bool) error {
	rec, ok := w.entities[e]
	if !ok {
		return eris.Wrapf(ErrEntityNotFound, "entity %d", e)
	}
	if rec.enabled == enabled {
		return nil
	}
	rec.enabled = enabled
	Publish(w.bus, EntityEnabledChanged{Entity: e, Enabled: enabled})
	return nil
}

func (w *World) IsEnabled(e Entity) bool {
	rec, ok := w.entities[e]
	return ok && rec.enabled
}

// ComponentTypes returns the component types of e in the order they were added.
func (w *World) ComponentTypes(e Entity) []reflect.Type {
	rec, ok := w.entities[e]
	if !ok {
		return nil
	}
	return slices.Clone(rec.components)
}

func (w *World) Registered(typ reflect.Type) bool {
	_, ok := w.stores[typ]
	return ok
}

// AddRaw attaches a zero value of typ to e and returns a pointer to it.
func (w *World) AddRaw(e Entity, typ reflect.Type) (any, error) {
	s, ok := w.stores[typ]
	if !ok {
		return nil, eris.Wrapf(ErrUnregisteredComponent, "%s", typ)
	}
	return w.attach(e, s, s.New())
}

// AddValue attaches v, which must be a T or *T of a registered component type.
func (w *World) AddValue(e Entity, v any) (any, error) {
	typ := reflect.TypeOf(v)
	if typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	s, ok := w.stores[typ]
	if !ok {
		return nil, eris.Wrapf(ErrUnregisteredComponent, "%v", typ)
	}
	return w.attach(e, s, v)
}

func (w *World) attach(e Entity, s TypedStore, v any) (any, error) {
	rec, ok := w.entities[e]
	if !ok {
		return nil, eris.Wrapf(ErrEntityNotFound, "entity %d", e)
	}
	if s.Has(e) {
		return nil, eris.Wrapf(ErrComponentExists, "entity %d %s", e, s.Type())
	}
	ptr, err := s.AddRaw(e, v)
	if err != nil {
		return nil, err
	}
	rec.components = append(rec.components, s.Type())
	Publish(w.bus, ComponentAdded{Entity: e, Type: s.Type(), Value: ptr})
	return ptr, nil
}

func (w *World) RemoveRaw(e Entity, typ reflect.Type) error {
	rec, ok := w.entities[e]
	if !ok {
		return eris.Wrapf(ErrEntityNotFound, "entity %d", e)
	}
	s, ok := w.stores[typ]
	if !ok || !s.Has(e) {
		return eris.Wrapf(ErrComponentNotFound, "entity %d %s", e, typ)
	}
	ptr, _ := s.GetRaw(e)
	if i := slices.Index(rec.components, typ); i >= 0 {
		rec.components = slices.Delete(rec.components, i, i+1)
	}
	s.Remove(e)
	Publish(w.bus, ComponentRemoved{Entity: e, Type: typ, Value: ptr})
	return nil
}

func (w *World) GetRaw(e Entity, typ reflect.Type) (any, bool) {
	s, ok := w.stores[typ]
	if !ok {
		return nil, false
	}
	return s.GetRaw(e)
}

func (w *World) HasRaw(e Entity, typ reflect.Type) bool {
	s, ok := w.stores[typ]
	return ok && s.Has(e)
}

func (w *World) SetEnabledRaw(e Entity, typ reflect.Type, enabled bool) error {
	s, ok := w.stores[typ]
	if !ok || !s.Has(e) {
		return eris.Wrapf(ErrComponentNotFound, "entity %d %s", e, typ)
	}
	if s.SetEnabled(e, enabled) {
		Publish(w.bus, ComponentEnabledChanged{Entity: e, Type: typ, Enabled: enabled})
	}
	return nil
}

func (w *World) IsEnabledRaw(e Entity, typ reflect.Type) bool {
	s, ok := w.stores[typ]
	return ok && s.IsEnabled(e)
}

// RegisterComponent creates the store for T. Registering T twice is a no-op.
func RegisterComponent[T any](w *World) {
	t := reflect.TypeFor[T]()
	if _, ok := w.stores[t]; ok {
		return
	}
	w.stores[t] = newStore[T]()
}

func storeFor[T any](w *World) (*Store[T], bool) {
	s, ok := w.stores[reflect.TypeFor[T]()]
	if !ok {
		return nil, false
	}
	store, ok := s.(*Store[T])
	return store, ok
}

// Add attaches value to e and returns a pointer to the stored copy.
func Add[T any](w *World, e Entity, value T) (*T, error) {
	s, ok := storeFor[T](w)
	if !ok {
		return nil, eris.Wrapf(ErrUnregisteredComponent, "%s", reflect.TypeFor[T]())
	}
	ptr, err := w.attach(e, s, &value)
	if err != nil {
		return nil, err
	}
	return ptr.(*T), nil
}

func Get[T any](w *World, e Entity) (*T, bool) {
	s, ok := storeFor[T](w)
	if !ok {
		return nil, false
	}
	return s.Get(e)
}

func Has[T any](w *World, e Entity) bool {
	s, ok := storeFor[T](w)
	return ok && s.Has(e)
}

func Remove[T any](w *World, e Entity) error {
	return w.RemoveRaw(e, reflect.TypeFor[T]())
}

func SetComponentEnabled[T any](w *World, e Entity, enabled bool) error {
	return w.SetEnabledRaw(e, reflect.TypeFor[T](), enabled)
}

func IsComponentEnabled[T any](w *World, e Entity) bool {
	return w.IsEnabledRaw(e, reflect.TypeFor[T]())
}
