package netsync

import (
	"reflect"

	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/QYUbit/netsync/pkg/ecs"
	"github.com/QYUbit/netsync/pkg/registry"
	"github.com/QYUbit/netsync/pkg/replication"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

// RPC describes a registered RPC type. The decode closure is built at
// registration time so a received payload resolves without reflection.
type RPC struct {
	Delivery transport.Delivery
	decode   func(data []byte) (any, error)
}

// Registries are the three type catalogs a session negotiates. Register
// everything before the first session starts; catalogs are shared by server
// and client builds and must use the same names.
type Registries struct {
	RPCs       *registry.Registry[RPC]
	Components *replication.ComponentRegistry
	Prefabs    *replication.PrefabRegistry
}

func NewRegistries() *Registries {
	return &Registries{
		RPCs:       registry.New[RPC]("rpc"),
		Components: replication.NewComponentRegistry(),
		Prefabs:    replication.NewPrefabRegistry(),
	}
}

// RegisterRPC adds T as an RPC type under a stable name.
func RegisterRPC[T any](r *Registries, name string, delivery transport.Delivery) error {
	desc := RPC{
		Delivery: delivery,
		decode: func(data []byte) (any, error) {
			var rpc T
			if err := wire.UnmarshalPayload(data, &rpc); err != nil {
				return nil, err
			}
			return rpc, nil
		},
	}
	_, err := r.RPCs.RegisterLocal(name, reflect.TypeFor[T](), desc)
	return err
}

// RegisterComponent adds T as a replicated component type. *T should
// implement state.Replicated when the component carries variables.
func RegisterComponent[T any](r *Registries, name string) error {
	_, err := r.Components.RegisterLocal(name, reflect.TypeFor[T](), replication.Component{})
	return err
}

// RegisterPrefab adds a network prefab. spawn may be nil.
func RegisterPrefab(r *Registries, name string, spawn func(w *ecs.World, e ecs.Entity) error) error {
	_, err := r.Prefabs.RegisterLocal(name, nil, replication.Prefab{Spawn: spawn})
	return err
}

func (r *Registries) reset() {
	r.RPCs.Reset()
	r.Components.Reset()
	r.Prefabs.Reset()
}

func (r *Registries) assign() (wire.Handshake, error) {
	var (
		h   wire.Handshake
		err error
	)
	if h.RPCs, err = r.RPCs.AssignRuntimeIDs(); err != nil {
		return h, err
	}
	if h.Components, err = r.Components.AssignRuntimeIDs(); err != nil {
		return h, err
	}
	if h.Prefabs, err = r.Prefabs.AssignRuntimeIDs(); err != nil {
		return h, err
	}
	return h, nil
}

// learn takes over the server's ids. Unknown hashes are expected between
// slightly different builds and are only logged.
func (r *Registries) learn(h wire.Handshake, logger axlog.Logger) {
	for _, m := range h.RPCs {
		if !r.RPCs.Learn(m.Hash, m.ID) {
			logger.Debug("ignoring unknown rpc hash", "hash", m.Hash, "id", m.ID)
		}
	}
	for _, m := range h.Components {
		if !r.Components.Learn(m.Hash, m.ID) {
			logger.Debug("ignoring unknown component hash", "hash", m.Hash, "id", m.ID)
		}
	}
	for _, m := range h.Prefabs {
		if !r.Prefabs.Learn(m.Hash, m.ID) {
			logger.Debug("ignoring unknown prefab hash", "hash", m.Hash, "id", m.ID)
		}
	}
}

// encodeRPC resolves the runtime id of rpc's type and encodes the packet.
func (r *Registries) encodeRPC(rpc any) ([]byte, transport.Delivery, error) {
	id, err := r.RPCs.IDOf(reflect.TypeOf(rpc))
	if err != nil {
		return nil, 0, err
	}
	entry, err := r.RPCs.Lookup(id)
	if err != nil {
		return nil, 0, err
	}
	payload, err := wire.MarshalPayload(rpc)
	if err != nil {
		return nil, 0, err
	}
	return wire.EncodeRPC(id, payload), entry.Desc.Delivery, nil
}

// decodeRPC returns the typed RPC value carried by p.
func (r *Registries) decodeRPC(p wire.RPC) (any, error) {
	entry, err := r.RPCs.Lookup(p.TypeID)
	if err != nil {
		return nil, eris.Wrapf(replication.ErrProtocolViolation, "rpc id %d: %v", p.TypeID, err)
	}
	rpc, err := entry.Desc.decode(p.Payload)
	if err != nil {
		return nil, eris.Wrapf(replication.ErrProtocolViolation, "rpc %s: %v", entry.Name, err)
	}
	return rpc, nil
}

// checkRPC reports whether rpc's type is registered locally, for loopback
// sends that never resolve a runtime id.
func (r *Registries) checkRPC(rpc any) error {
	if _, ok := r.RPCs.Local(reflect.TypeOf(rpc)); !ok {
		return eris.Wrapf(registry.ErrUnregisteredType, "rpc %T", rpc)
	}
	return nil
}
