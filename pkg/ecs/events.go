package ecs

import "reflect"

type EntityCreated struct {
	Entity Entity
}

type EntityDestroyed struct {
	Entity Entity
}

type EntityEnabledChanged struct {
	Entity  Entity
	Enabled bool
}

// ComponentAdded is published after the component is attached. Value is the
// stored pointer.
type ComponentAdded struct {
	Entity Entity
	Type   reflect.Type
	Value  any
}

// ComponentRemoved is published after the component is detached. Value is
// the pointer the store held.
type ComponentRemoved struct {
	Entity Entity
	Type   reflect.Type
	Value  any
}

type ComponentEnabledChanged struct {
	Entity  Entity
	Type    reflect.Type
	Enabled bool
}

type subscription struct {
	id      uint64
	handler any
}

// EventBus dispatches events synchronously to handlers subscribed by event
// type, in subscription order.
type EventBus struct {
	handlers map[reflect.Type][]subscription
	nextID   uint64
}

// Subscribe registers handler for events of type T and returns a function
// that removes it again.
func Subscribe[T any](bus *EventBus, handler func(T)) (unsubscribe func()) {
	if bus.handlers == nil {
		bus.handlers = make(map[reflect.Type][]subscription)
	}
	t := reflect.TypeFor[T]()
	bus.nextID++
	id := bus.nextID
	bus.handlers[t] = append(bus.handlers[t], subscription{id: id, handler: handler})

	return func() {
		subs := bus.handlers[t]
		for i, s := range subs {
			if s.id == id {
				bus.handlers[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func Publish[T any](bus *EventBus, event T) {
	subs := bus.handlers[reflect.TypeFor[T]()]
	for _, s := range subs {
		s.handler.(func(T))(event)
	}
}
