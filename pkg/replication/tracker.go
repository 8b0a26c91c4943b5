package replication

import (
	"reflect"

	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/QYUbit/netsync/pkg/ecs"
	"github.com/QYUbit/netsync/pkg/netid"
	"github.com/QYUbit/netsync/pkg/state"
)

var netSyncType = reflect.TypeFor[NetSync]()

// tracker keeps a state.Store in step with the NetSync entities of a world.
// With an allocator it assigns network ids (server), without one it takes
// them from the marker (client).
type tracker struct {
	world      *ecs.World
	store      *state.Store
	components *ComponentRegistry
	alloc      *netid.Allocator
	logger     axlog.Logger

	byEntity map[ecs.Entity]uint16
	byNetID  map[uint16]ecs.Entity

	onUntrack   func(netID uint16)
	onStructure func(netID uint16)

	unsubscribe []func()
}

func newTracker(w *ecs.World, store *state.Store, components *ComponentRegistry, alloc *netid.Allocator, logger axlog.Logger) *tracker {
	ecs.RegisterComponent[NetSync](w)
	return &tracker{
		world:      w,
		store:      store,
		components: components,
		alloc:      alloc,
		logger:     logger,
		byEntity:   make(map[ecs.Entity]uint16),
		byNetID:    make(map[uint16]ecs.Entity),
	}
}

func (t *tracker) attach() {
	bus := t.world.Events()
	t.unsubscribe = append(t.unsubscribe,
		ecs.Subscribe(bus, t.componentAdded),
		ecs.Subscribe(bus, t.componentRemoved),
		ecs.Subscribe(bus, t.entityEnabledChanged),
		ecs.Subscribe(bus, t.componentEnabledChanged),
	)

	for e := range t.world.Entities() {
		if marker, ok := ecs.Get[NetSync](t.world, e); ok {
			t.track(e, marker)
		}
	}
}

func (t *tracker) detach() {
	for _, unsubscribe := range t.unsubscribe {
		unsubscribe()
	}
	t.unsubscribe = nil
	t.store.Clear()
	clear(t.byEntity)
	clear(t.byNetID)
}

func (t *tracker) netID(e ecs.Entity) (uint16, bool) {
	n, ok := t.byEntity[e]
	return n, ok
}

func (t *tracker) entity(netID uint16) (ecs.Entity, bool) {
	e, ok := t.byNetID[netID]
	return e, ok
}

func (t *tracker) componentAdded(ev ecs.ComponentAdded) {
	if ev.Type == netSyncType {
		t.track(ev.Entity, ev.Value.(*NetSync))
		return
	}
	n, ok := t.byEntity[ev.Entity]
	if !ok {
		return
	}
	if t.addComponent(n, ev.Type, ev.Value) && t.onStructure != nil {
		t.onStructure(n)
	}
}

func (t *tracker) componentRemoved(ev ecs.ComponentRemoved) {
	n, ok := t.byEntity[ev.Entity]
	if !ok {
		return
	}
	if ev.Type == netSyncType {
		t.untrack(ev.Entity, n)
		return
	}
	compID, err := t.components.IDOf(ev.Type)
	if err != nil {
		return
	}
	t.store.RemoveComponent(n, compID)
	if t.onStructure != nil {
		t.onStructure(n)
	}
}

func (t *tracker) entityEnabledChanged(ev ecs.EntityEnabledChanged) {
	n, ok := t.byEntity[ev.Entity]
	if !ok {
		return
	}
	if es, ok := t.store.TryGetEntity(n); ok {
		es.MarkEnabledDirty()
	}
}

func (t *tracker) componentEnabledChanged(ev ecs.ComponentEnabledChanged) {
	n, ok := t.byEntity[ev.Entity]
	if !ok {
		return
	}
	compID, err := t.components.IDOf(ev.Type)
	if err != nil {
		return
	}
	if cs, ok := t.store.TryGetComponentState(n, compID); ok {
		cs.MarkEnabledDirty()
	}
}

func (t *tracker) track(e ecs.Entity, marker *NetSync) {
	if _, ok := t.byEntity[e]; ok {
		return
	}
	if t.alloc != nil {
		n, err := t.alloc.Next()
		if err != nil {
			t.logger.Error("cannot replicate entity", "entity", e, "error", err)
			return
		}
		marker.NetID = n
	}
	if marker.NetID == netid.Invalid {
		t.logger.Error("replicated entity has no network id", "entity", e)
		return
	}

	n := marker.NetID
	t.byEntity[e] = n
	t.byNetID[n] = e
	t.store.GetOrCreateEntity(n)

	for _, typ := range t.world.ComponentTypes(e) {
		if typ == netSyncType {
			continue
		}
		if value, ok := t.world.GetRaw(e, typ); ok {
			t.addComponent(n, typ, value)
		}
	}
}

func (t *tracker) untrack(e ecs.Entity, n uint16) {
	delete(t.byEntity, e)
	delete(t.byNetID, n)
	t.store.RemoveEntity(n)
	if t.onUntrack != nil {
		t.onUntrack(n)
	}
}

// addComponent reports whether typ is a negotiated replicated component.
func (t *tracker) addComponent(n uint16, typ reflect.Type, value any) bool {
	compID, err := t.components.IDOf(typ)
	if err != nil {
		return false
	}
	r, _ := value.(state.Replicated)
	if _, err := t.store.AddComponent(n, compID, r); err != nil {
		t.logger.Error("cannot track component state", "netId", n, "component", typ.String(), "error", err)
		return false
	}
	return true
}
