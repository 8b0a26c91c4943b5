// Package state holds the replicated variable values of every networked
// entity together with the dirty flags that drive delta encoding.
package state

import (
	"slices"

	"github.com/rotisserie/eris"
)

var (
	ErrUnknownEntity    = eris.New("no replication state for network id")
	ErrUnknownComponent = eris.New("no replication state for component")
	ErrDuplicateVar     = eris.New("variable id already bound")
)

type ComponentState struct {
	id           uint16
	vars         map[uint8]Slot
	order        []uint8
	numDirty     uint8
	enabledDirty bool
}

func newComponentState(id uint16) *ComponentState {
	return &ComponentState{id: id, vars: make(map[uint8]Slot)}
}

func (c *ComponentState) ID() uint16 {
	return c.id
}

func (c *ComponentState) Len() int {
	return len(c.order)
}

func (c *ComponentState) NumDirty() uint8 {
	return c.numDirty
}

func (c *ComponentState) EnabledDirty() bool {
	return c.enabledDirty
}

func (c *ComponentState) MarkEnabledDirty() {
	c.enabledDirty = true
}

func (c *ComponentState) Var(id uint8) (Slot, bool) {
	s, ok := c.vars[id]
	return s, ok
}

// Vars calls fn for every variable in the order they were added.
func (c *ComponentState) Vars(fn func(id uint8, s Slot)) {
	for _, id := range c.order {
		fn(id, c.vars[id])
	}
}

type EntityState struct {
	netID        uint16
	components   map[uint16]*ComponentState
	order        []uint16
	enabledDirty bool
}

func (e *EntityState) NetID() uint16 {
	return e.netID
}

func (e *EntityState) EnabledDirty() bool {
	return e.enabledDirty
}

func (e *EntityState) MarkEnabledDirty() {
	e.enabledDirty = true
}

func (e *EntityState) Component(id uint16) (*ComponentState, bool) {
	c, ok := e.components[id]
	return c, ok
}

// Components calls fn for every component in the order they were added.
func (e *EntityState) Components(fn func(c *ComponentState)) {
	for _, id := range e.order {
		fn(e.components[id])
	}
}

func (e *EntityState) Len() int {
	return len(e.order)
}

// Dirty reports whether anything on the entity would produce a delta.
func (e *EntityState) Dirty() bool {
	if e.enabledDirty {
		return true
	}
	for _, c := range e.components {
		if c.enabledDirty || c.numDirty > 0 {
			return true
		}
	}
	return false
}

// Store maps network ids to their replicated state. Vars bound to an
// authoritative store count towards their component's dirty total.
type Store struct {
	authority bool
	entities  map[uint16]*EntityState
	order     []uint16
}

func NewStore(authority bool) *Store {
	return &Store{
		authority: authority,
		entities:  make(map[uint16]*EntityState),
	}
}

func (s *Store) Authority() bool {
	return s.authority
}

// SetAuthority switches the store between server and client semantics.
// It only affects vars bound afterwards, so it is called on an empty store.
func (s *Store) SetAuthority(authority bool) {
	s.authority = authority
}

func (s *Store) GetOrCreateEntity(netID uint16) *EntityState {
	e, ok := s.entities[netID]
	if !ok {
		e = &EntityState{netID: netID, components: make(map[uint16]*ComponentState)}
		s.entities[netID] = e
		s.order = append(s.order, netID)
	}
	return e
}

func (s *Store) TryGetEntity(netID uint16) (*EntityState, bool) {
	e, ok := s.entities[netID]
	return e, ok
}

func (s *Store) GetOrCreateComponentState(netID, compID uint16) *ComponentState {
	e := s.GetOrCreateEntity(netID)
	c, ok := e.components[compID]
	if !ok {
		c = newComponentState(compID)
		e.components[compID] = c
		e.order = append(e.order, compID)
	}
	return c
}

func (s *Store) TryGetComponentState(netID, compID uint16) (*ComponentState, bool) {
	e, ok := s.entities[netID]
	if !ok {
		return nil, false
	}
	c, ok := e.components[compID]
	return c, ok
}

// AddVar binds slot as variable varID of the given component.
func (s *Store) AddVar(netID, compID uint16, varID uint8, slot Slot) error {
	c := s.GetOrCreateComponentState(netID, compID)
	if _, ok := c.vars[varID]; ok {
		return eris.Wrapf(ErrDuplicateVar, "net id %d component %d var %d", netID, compID, varID)
	}
	slot.bind(c, s.authority)
	c.vars[varID] = slot
	c.order = append(c.order, varID)
	return nil
}

// AddComponent binds every slot of r, using slot indices as variable ids.
func (s *Store) AddComponent(netID, compID uint16, r Replicated) (*ComponentState, error) {
	c := s.GetOrCreateComponentState(netID, compID)
	if r == nil {
		return c, nil
	}
	slots := r.NetVars()
	if len(slots) > 255 {
		return nil, eris.Errorf("component %d has %d vars, at most 255 are supported", compID, len(slots))
	}
	for i, slot := range slots {
		if err := s.AddVar(netID, compID, uint8(i), slot); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *Store) RemoveVar(netID, compID uint16, varID uint8) {
	c, ok := s.TryGetComponentState(netID, compID)
	if !ok {
		return
	}
	slot, ok := c.vars[varID]
	if !ok {
		return
	}
	if slot.Dirty() && c.numDirty > 0 {
		c.numDirty--
	}
	slot.unbind()
	delete(c.vars, varID)
	c.order = deleteValue(c.order, varID)
}

func (s *Store) RemoveComponent(netID, compID uint16) {
	e, ok := s.entities[netID]
	if !ok {
		return
	}
	c, ok := e.components[compID]
	if !ok {
		return
	}
	for _, slot := range c.vars {
		slot.unbind()
	}
	delete(e.components, compID)
	e.order = deleteValue(e.order, compID)
}

func (s *Store) RemoveEntity(netID uint16) {
	e, ok := s.entities[netID]
	if !ok {
		return
	}
	for _, c := range e.components {
		for _, slot := range c.vars {
			slot.unbind()
		}
	}
	delete(s.entities, netID)
	s.order = deleteValue(s.order, netID)
}

// Entities returns the network ids in the order they were added.
func (s *Store) Entities() []uint16 {
	return s.order
}

func (s *Store) Len() int {
	return len(s.order)
}

// ResetDeltas clears every dirty flag in the store. Called once per tick
// after all delta packets for that tick were built.
func (s *Store) ResetDeltas() {
	for _, e := range s.entities {
		e.enabledDirty = false
		for _, c := range e.components {
			c.enabledDirty = false
			c.numDirty = 0
			for _, slot := range c.vars {
				slot.reset()
			}
		}
	}
}

func (s *Store) Clear() {
	for _, netID := range slices.Clone(s.order) {
		s.RemoveEntity(netID)
	}
}

func deleteValue[T comparable](s []T, v T) []T {
	if i := slices.Index(s, v); i >= 0 {
		return slices.Delete(s, i, i+1)
	}
	return s
}
