package replication

import (
	"slices"

	"github.com/QYUbit/netsync/pkg/awareness"
	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/QYUbit/netsync/pkg/ecs"
	"github.com/QYUbit/netsync/pkg/netid"
	"github.com/QYUbit/netsync/pkg/state"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

type DriverConfig struct {
	World      *ecs.World
	Components *ComponentRegistry
	Prefabs    *PrefabRegistry
	Allocator  *netid.Allocator
	Store      *state.Store
	Awareness  *awareness.Table
	Policy     Policy
	Send       SendFunc
	Logger     axlog.Logger
}

// Driver is the server side of replication. It is driven from the
// simulation goroutine: Tick once per simulation tick, Authorize when a
// client finished its handshake and RemoveClient when it left.
type Driver struct {
	world      *ecs.World
	components *ComponentRegistry
	prefabs    *PrefabRegistry
	alloc      *netid.Allocator
	store      *state.Store
	awareness  *awareness.Table
	policy     Policy
	send       SendFunc
	logger     axlog.Logger

	tracker    *tracker
	clients    []transport.ClientID
	resnapshot map[uint16]struct{}
}

func NewDriver(cfg DriverConfig) *Driver {
	d := &Driver{
		world:      cfg.World,
		components: cfg.Components,
		prefabs:    cfg.Prefabs,
		alloc:      cfg.Allocator,
		store:      cfg.Store,
		awareness:  cfg.Awareness,
		policy:     cfg.Policy,
		send:       cfg.Send,
		logger:     axlog.OrNop(cfg.Logger),
		resnapshot: make(map[uint16]struct{}),
	}
	if d.policy == nil {
		d.policy = AlwaysAware{}
	}
	if d.alloc == nil {
		d.alloc = netid.NewAllocator()
	}
	if d.store == nil {
		d.store = state.NewStore(true)
	}
	if d.awareness == nil {
		d.awareness = awareness.NewTable()
	}

	d.tracker = newTracker(d.world, d.store, d.components, d.alloc, d.logger)
	d.tracker.onUntrack = d.EntityDestroyed
	d.tracker.onStructure = d.structureChanged
	d.tracker.attach()
	return d
}

// Close stops following the world and forgets all replication state.
func (d *Driver) Close() {
	d.tracker.detach()
	d.awareness.Clear()
	d.alloc.Reset()
	d.clients = nil
	clear(d.resnapshot)
}

func (d *Driver) NetID(e ecs.Entity) (uint16, bool) {
	return d.tracker.netID(e)
}

func (d *Driver) Entity(netID uint16) (ecs.Entity, bool) {
	return d.tracker.entity(netID)
}

func (d *Driver) Clients() []transport.ClientID {
	return slices.Clone(d.clients)
}

// Authorize adds client to the replication loop and immediately sends it a
// snapshot of every entity it should know about.
func (d *Driver) Authorize(client transport.ClientID) error {
	if client == transport.LoopbackClient {
		return nil
	}
	if !slices.Contains(d.clients, client) {
		d.clients = append(d.clients, client)
		slices.Sort(d.clients)
	}

	for _, n := range d.store.Entities() {
		if !d.policy.ShouldReplicate(client, n) || d.awareness.IsAware(client, n) {
			continue
		}
		packet, snapshot, err := d.encodeCreate(n)
		if err != nil {
			return err
		}
		d.sendCreate(client, n, packet, snapshot)
	}
	return nil
}

func (d *Driver) RemoveClient(client transport.ClientID) {
	d.clients = slices.DeleteFunc(d.clients, func(c transport.ClientID) bool { return c == client })
	d.awareness.RemoveClient(client)
}

// Tick sends one round of creates, deltas and destroys, then clears all
// dirty state and advances the network id quarantine.
func (d *Driver) Tick() error {
	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, n := range d.store.Entities() {
		es, ok := d.store.TryGetEntity(n)
		if !ok {
			continue
		}
		_, resnapshot := d.resnapshot[n]

		var (
			create       []byte
			snapshot     wire.Snapshot
			instructions []wire.Instruction
			deltaBuilt   bool
		)

		for _, c := range d.clients {
			if !d.policy.ShouldReplicate(c, n) {
				if d.awareness.IsAware(c, n) {
					d.sendDestroy(c, n)
				}
				continue
			}

			if d.awareness.IsAware(c, n) && !resnapshot {
				if !deltaBuilt {
					var err error
					instructions, err = d.buildDelta(n, es)
					if err != nil {
						fail(err)
					}
					deltaBuilt = true
				}
				if err := d.sendDelta(c, n, instructions); err != nil {
					fail(err)
				}
				continue
			}

			if create == nil {
				var err error
				create, snapshot, err = d.encodeCreate(n)
				if err != nil {
					fail(err)
					break
				}
			}
			d.sendCreate(c, n, create, snapshot)
		}
	}

	clear(d.resnapshot)
	d.store.ResetDeltas()
	d.alloc.Flush()
	return firstErr
}

// EntityDestroyed sends Destroy to every client aware of netID right away
// and releases the id.
func (d *Driver) EntityDestroyed(netID uint16) {
	for _, c := range d.awareness.AwareClients(netID) {
		if c == transport.LoopbackClient {
			d.awareness.MakeUnaware(c, netID)
			continue
		}
		d.sendDestroy(c, netID)
	}
	delete(d.resnapshot, netID)
	d.alloc.Release(netID)
}

func (d *Driver) structureChanged(netID uint16) {
	d.resnapshot[netID] = struct{}{}
}

func (d *Driver) sendCreate(c transport.ClientID, n uint16, packet []byte, snapshot wire.Snapshot) {
	if err := d.send(c, packet, transport.ReliableOrdered); err != nil {
		d.logger.Warn("failed sending create", "client", c, "netId", n, "error", err)
		return
	}
	d.awareness.MakeUnaware(c, n)
	d.awareness.MakeAware(c, n)
	for _, comp := range snapshot.Components {
		d.awareness.MakeComponentAware(c, n, comp.ID)
		for _, v := range comp.Vars {
			d.awareness.MakeVarAware(c, n, comp.ID, v.ID)
		}
	}
}

func (d *Driver) sendDestroy(c transport.ClientID, n uint16) {
	if err := d.send(c, wire.EncodeDestroyEntity(n), transport.ReliableOrdered); err != nil {
		d.logger.Warn("failed sending destroy", "client", c, "netId", n, "error", err)
	}
	d.awareness.MakeUnaware(c, n)
}

func (d *Driver) sendDelta(c transport.ClientID, n uint16, instructions []wire.Instruction) error {
	visible := instructions[:0:0]
	for _, in := range instructions {
		switch in.Op {
		case wire.OpEntityEnabled, wire.OpEntityDisabled:
		case wire.OpVarChanged:
			if !d.awareness.IsVarAware(c, n, in.Component, in.Var) {
				continue
			}
		default:
			if !d.awareness.IsComponentAware(c, n, in.Component) {
				continue
			}
		}
		visible = append(visible, in)
	}

	for _, chunk := range wire.ChunkInstructions(visible) {
		packet, ok, err := wire.EncodeEntityDelta(wire.EntityDelta{NetID: n, Instructions: chunk})
		if err != nil {
			return eris.Wrapf(err, "failed encoding delta for net id %d", n)
		}
		if !ok {
			continue
		}
		if err := d.send(c, packet, transport.ReliableOrdered); err != nil {
			d.logger.Warn("failed sending delta", "client", c, "netId", n, "error", err)
		}
	}
	return nil
}

func (d *Driver) buildDelta(n uint16, es *state.EntityState) ([]wire.Instruction, error) {
	if !es.Dirty() {
		return nil, nil
	}
	e, ok := d.tracker.entity(n)
	if !ok {
		return nil, eris.Wrapf(ErrNotTracked, "net id %d", n)
	}

	var (
		out []wire.Instruction
		err error
	)
	if es.EnabledDirty() {
		out = append(out, wire.EntityEnabled(d.world.IsEnabled(e)))
	}
	es.Components(func(cs *state.ComponentState) {
		if err != nil {
			return
		}
		if cs.EnabledDirty() {
			entry, lookupErr := d.components.Lookup(cs.ID())
			if lookupErr != nil {
				err = lookupErr
				return
			}
			out = append(out, wire.ComponentEnabled(cs.ID(), d.world.IsEnabledRaw(e, entry.Type)))
		}
		if cs.NumDirty() == 0 {
			return
		}
		cs.Vars(func(id uint8, slot state.Slot) {
			if err != nil || !slot.Dirty() {
				return
			}
			data, encodeErr := slot.AppendValue(nil)
			if encodeErr != nil {
				err = encodeErr
				return
			}
			out = append(out, wire.VarChanged(cs.ID(), id, data))
		})
	})
	return out, err
}

func (d *Driver) snapshot(n uint16) (wire.Snapshot, error) {
	e, ok := d.tracker.entity(n)
	es, found := d.store.TryGetEntity(n)
	if !ok || !found {
		return wire.Snapshot{}, eris.Wrapf(ErrNotTracked, "net id %d", n)
	}

	snapshot := wire.Snapshot{Enabled: d.world.IsEnabled(e)}
	var err error
	es.Components(func(cs *state.ComponentState) {
		if err != nil {
			return
		}
		entry, lookupErr := d.components.Lookup(cs.ID())
		if lookupErr != nil {
			err = lookupErr
			return
		}
		comp := wire.ComponentSnapshot{ID: cs.ID(), Enabled: d.world.IsEnabledRaw(e, entry.Type)}
		cs.Vars(func(id uint8, slot state.Slot) {
			if err != nil {
				return
			}
			data, encodeErr := slot.AppendValue(nil)
			if encodeErr != nil {
				err = encodeErr
				return
			}
			comp.Vars = append(comp.Vars, wire.VarValue{ID: id, Data: data})
		})
		snapshot.Components = append(snapshot.Components, comp)
	})
	return snapshot, err
}

func (d *Driver) encodeCreate(n uint16) ([]byte, wire.Snapshot, error) {
	snapshot, err := d.snapshot(n)
	if err != nil {
		return nil, snapshot, err
	}

	var packet []byte
	if prefabID, ok := d.prefabOf(n); ok {
		packet, err = wire.EncodeCreateEntityFromPrefab(n, prefabID, snapshot)
	} else {
		packet, err = wire.EncodeCreateEntity(n, snapshot)
	}
	if err != nil {
		return nil, snapshot, eris.Wrapf(err, "failed encoding create for net id %d", n)
	}
	return packet, snapshot, nil
}

func (d *Driver) prefabOf(n uint16) (uint16, bool) {
	e, ok := d.tracker.entity(n)
	if !ok || d.prefabs == nil {
		return 0, false
	}
	marker, ok := ecs.Get[NetSync](d.world, e)
	if !ok || marker.Prefab == "" {
		return 0, false
	}
	id, err := d.prefabs.IDOfName(marker.Prefab)
	if err != nil {
		d.logger.Warn("prefab is not negotiated, sending plain create", "prefab", marker.Prefab, "error", err)
		return 0, false
	}
	return id, true
}
