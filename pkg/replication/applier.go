package replication

import (
	"reflect"

	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/QYUbit/netsync/pkg/ecs"
	"github.com/QYUbit/netsync/pkg/state"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

type ApplierConfig struct {
	World      *ecs.World
	Components *ComponentRegistry
	Prefabs    *PrefabRegistry
	Store      *state.Store
	Logger     axlog.Logger
}

// Applier is the client side of replication. It mirrors the server's
// replicated entities into a local world.
type Applier struct {
	world      *ecs.World
	components *ComponentRegistry
	prefabs    *PrefabRegistry
	store      *state.Store
	logger     axlog.Logger
	tracker    *tracker
}

func NewApplier(cfg ApplierConfig) *Applier {
	a := &Applier{
		world:      cfg.World,
		components: cfg.Components,
		prefabs:    cfg.Prefabs,
		store:      cfg.Store,
		logger:     axlog.OrNop(cfg.Logger),
	}
	if a.store == nil {
		a.store = state.NewStore(false)
	}
	a.tracker = newTracker(a.world, a.store, a.components, nil, a.logger)
	a.tracker.attach()
	return a
}

// Close destroys every mirrored entity and stops following the world.
func (a *Applier) Close() {
	for _, n := range append([]uint16(nil), a.store.Entities()...) {
		if e, ok := a.tracker.entity(n); ok {
			if err := a.world.Destroy(e); err != nil {
				a.logger.Warn("failed destroying mirrored entity", "netId", n, "error", err)
			}
		}
	}
	a.tracker.detach()
}

func (a *Applier) Entity(netID uint16) (ecs.Entity, bool) {
	return a.tracker.entity(netID)
}

func (a *Applier) NetID(e ecs.Entity) (uint16, bool) {
	return a.tracker.netID(e)
}

// Apply applies one decoded entity packet. Errors wrapping
// ErrProtocolViolation mean the server and this client disagree about
// the replicated state.
func (a *Applier) Apply(packet wire.Packet) error {
	switch p := packet.(type) {
	case wire.CreateEntity:
		return a.create(p.NetID, "", p.Snapshot)

	case wire.CreateEntityFromPrefab:
		if a.prefabs == nil {
			return eris.Wrapf(ErrProtocolViolation, "prefab %d without prefab registry", p.PrefabID)
		}
		entry, err := a.prefabs.Lookup(p.PrefabID)
		if err != nil {
			return eris.Wrapf(ErrProtocolViolation, "prefab %d: %v", p.PrefabID, err)
		}
		return a.create(p.NetID, entry.Name, p.Snapshot)

	case wire.DestroyEntity:
		e, ok := a.tracker.entity(p.NetID)
		if !ok {
			return eris.Wrapf(ErrProtocolViolation, "destroy of unknown net id %d", p.NetID)
		}
		return a.world.Destroy(e)

	case wire.EntityDelta:
		return a.applyDelta(p)
	}
	return eris.Errorf("replication cannot apply %s", packet.Kind())
}

func (a *Applier) create(n uint16, prefab string, snapshot wire.Snapshot) error {
	e, exists := a.tracker.entity(n)
	if !exists {
		e = a.world.CreateEntity()
		if _, err := ecs.Add(a.world, e, NetSync{NetID: n, Prefab: prefab}); err != nil {
			return err
		}
		if prefab != "" {
			entry, _ := a.prefabs.LocalByName(prefab)
			if entry != nil && entry.Desc.Spawn != nil {
				if err := entry.Desc.Spawn(a.world, e); err != nil {
					return eris.Wrapf(err, "failed spawning prefab %s", prefab)
				}
			}
		}
	}
	return a.applySnapshot(e, n, snapshot)
}

func (a *Applier) applySnapshot(e ecs.Entity, n uint16, snapshot wire.Snapshot) error {
	present := make(map[uint16]reflect.Type, len(snapshot.Components))

	for _, comp := range snapshot.Components {
		entry, err := a.components.Lookup(comp.ID)
		if err != nil {
			a.logger.Debug("skipping unknown component in snapshot", "netId", n, "component", comp.ID)
			continue
		}
		present[comp.ID] = entry.Type

		if !a.world.HasRaw(e, entry.Type) {
			if _, err := a.world.AddRaw(e, entry.Type); err != nil {
				return eris.Wrapf(err, "failed adding component %s", entry.Name)
			}
		}

		cs, ok := a.store.TryGetComponentState(n, comp.ID)
		if !ok {
			continue
		}
		for _, v := range comp.Vars {
			slot, ok := cs.Var(v.ID)
			if !ok {
				a.logger.Debug("skipping unknown var in snapshot", "netId", n, "component", comp.ID, "var", v.ID)
				continue
			}
			if err := slot.Apply(v.Data); err != nil {
				return eris.Wrapf(err, "net id %d component %d var %d", n, comp.ID, v.ID)
			}
		}
	}

	for _, typ := range a.world.ComponentTypes(e) {
		compID, err := a.components.IDOf(typ)
		if err != nil {
			continue
		}
		if _, ok := present[compID]; !ok {
			if err := a.world.RemoveRaw(e, typ); err != nil {
				return err
			}
		}
	}

	for _, comp := range snapshot.Components {
		if typ, ok := present[comp.ID]; ok {
			if err := a.world.SetEnabledRaw(e, typ, comp.Enabled); err != nil {
				return err
			}
		}
	}
	return a.world.SetEnabled(e, snapshot.Enabled)
}

func (a *Applier) applyDelta(delta wire.EntityDelta) error {
	e, ok := a.tracker.entity(delta.NetID)
	if !ok {
		return eris.Wrapf(ErrProtocolViolation, "delta for unknown net id %d", delta.NetID)
	}

	for _, in := range delta.Instructions {
		switch in.Op {
		case wire.OpEntityEnabled, wire.OpEntityDisabled:
			if err := a.world.SetEnabled(e, in.Op == wire.OpEntityEnabled); err != nil {
				return err
			}

		case wire.OpComponentEnabled, wire.OpComponentDisabled:
			entry, err := a.components.Lookup(in.Component)
			if err != nil || !a.world.HasRaw(e, entry.Type) {
				a.logger.Debug("skipping enable flag of unknown component", "netId", delta.NetID, "component", in.Component)
				continue
			}
			if err := a.world.SetEnabledRaw(e, entry.Type, in.Op == wire.OpComponentEnabled); err != nil {
				return err
			}

		case wire.OpVarChanged:
			cs, ok := a.store.TryGetComponentState(delta.NetID, in.Component)
			if !ok {
				a.logger.Debug("skipping var of unknown component", "netId", delta.NetID, "component", in.Component)
				continue
			}
			slot, ok := cs.Var(in.Var)
			if !ok {
				continue
			}
			if err := slot.Apply(in.Data); err != nil {
				return eris.Wrapf(err, "net id %d component %d var %d", delta.NetID, in.Component, in.Var)
			}
		}
	}
	return nil
}
