// Package replication turns the state of an ecs.World into per client
// create, delta and destroy packets on the server, and applies those packets
// to a mirror world on the client.
package replication

import (
	"github.com/QYUbit/netsync/pkg/ecs"
	"github.com/QYUbit/netsync/pkg/registry"
	"github.com/QYUbit/netsync/pkg/transport"
)

// NetSync marks an entity for replication. The server fills in NetID when
// the marker is added. Prefab optionally names a registered prefab that
// clients instantiate instead of starting from an empty entity.
type NetSync struct {
	NetID  uint16
	Prefab string
}

// Component describes a replicated component type. The registry entry
// already carries the reflect.Type, so nothing else is needed today.
type Component struct{}

// Prefab describes how a client builds the local part of a prefab entity.
type Prefab struct {
	Spawn func(w *ecs.World, e ecs.Entity) error
}

type (
	ComponentRegistry = registry.Registry[Component]
	PrefabRegistry    = registry.Registry[Prefab]
)

// Policy decides which entities a client should know about.
type Policy interface {
	ShouldReplicate(client transport.ClientID, netID uint16) bool
}

// AlwaysAware replicates every entity to every client.
type AlwaysAware struct{}

func (AlwaysAware) ShouldReplicate(transport.ClientID, uint16) bool {
	return true
}

type PolicyFunc func(client transport.ClientID, netID uint16) bool

func (f PolicyFunc) ShouldReplicate(client transport.ClientID, netID uint16) bool {
	return f(client, netID)
}

// SendFunc hands an encoded packet to the transport.
type SendFunc func(client transport.ClientID, data []byte, delivery transport.Delivery) error

func NewComponentRegistry() *ComponentRegistry {
	return registry.New[Component]("component")
}

func NewPrefabRegistry() *PrefabRegistry {
	return registry.New[Prefab]("prefab")
}
