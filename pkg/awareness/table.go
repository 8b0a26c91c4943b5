// Package awareness tracks, per client, which replicated entities,
// components and variables that client currently knows about.
//
// Lookups are total: anything absent is simply "not aware". Making a client
// aware of a component or variable also makes it aware of the parents, and
// removing a parent removes everything beneath it.
package awareness

import (
	"slices"

	"github.com/kelindar/bitmap"
)

type ClientID = uint16

type clientAwareness struct {
	entities   bitmap.Bitmap
	components map[uint16]*entityComponents
}

type entityComponents struct {
	set  bitmap.Bitmap
	vars map[uint16]*bitmap.Bitmap
}

type Table struct {
	clients map[ClientID]*clientAwareness
}

func NewTable() *Table {
	return &Table{clients: make(map[ClientID]*clientAwareness)}
}

func (t *Table) IsAware(c ClientID, netID uint16) bool {
	ca, ok := t.clients[c]
	if !ok {
		return false
	}
	return ca.entities.Contains(uint32(netID))
}

func (t *Table) IsComponentAware(c ClientID, netID, compID uint16) bool {
	ec := t.entity(c, netID)
	if ec == nil {
		return false
	}
	return ec.set.Contains(uint32(compID))
}

func (t *Table) IsVarAware(c ClientID, netID, compID uint16, varID uint8) bool {
	ec := t.entity(c, netID)
	if ec == nil {
		return false
	}
	vars, ok := ec.vars[compID]
	if !ok {
		return false
	}
	return vars.Contains(uint32(varID))
}

func (t *Table) MakeAware(c ClientID, netID uint16) {
	ca, ok := t.clients[c]
	if !ok {
		ca = &clientAwareness{components: make(map[uint16]*entityComponents)}
		t.clients[c] = ca
	}
	ca.entities.Set(uint32(netID))
}

func (t *Table) MakeComponentAware(c ClientID, netID, compID uint16) {
	t.MakeAware(c, netID)
	ca := t.clients[c]
	ec, ok := ca.components[netID]
	if !ok {
		ec = &entityComponents{vars: make(map[uint16]*bitmap.Bitmap)}
		ca.components[netID] = ec
	}
	ec.set.Set(uint32(compID))
}

func (t *Table) MakeVarAware(c ClientID, netID, compID uint16, varID uint8) {
	t.MakeComponentAware(c, netID, compID)
	ec := t.clients[c].components[netID]
	vars, ok := ec.vars[compID]
	if !ok {
		vars = &bitmap.Bitmap{}
		ec.vars[compID] = vars
	}
	vars.Set(uint32(varID))
}

// MakeUnaware forgets the entity and everything known beneath it.
func (t *Table) MakeUnaware(c ClientID, netID uint16) {
	ca, ok := t.clients[c]
	if !ok {
		return
	}
	ca.entities.Remove(uint32(netID))
	delete(ca.components, netID)
}

// MakeComponentUnaware forgets the component and its variables.
func (t *Table) MakeComponentUnaware(c ClientID, netID, compID uint16) {
	ec := t.entity(c, netID)
	if ec == nil {
		return
	}
	ec.set.Remove(uint32(compID))
	delete(ec.vars, compID)
}

func (t *Table) MakeVarUnaware(c ClientID, netID, compID uint16, varID uint8) {
	ec := t.entity(c, netID)
	if ec == nil {
		return
	}
	if vars, ok := ec.vars[compID]; ok {
		vars.Remove(uint32(varID))
	}
}

// AwareClients lists the clients that are aware of netID, in ascending order.
func (t *Table) AwareClients(netID uint16) []ClientID {
	var out []ClientID
	for c, ca := range t.clients {
		if ca.entities.Contains(uint32(netID)) {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

// EntityCount reports how many entities c is aware of.
func (t *Table) EntityCount(c ClientID) int {
	ca, ok := t.clients[c]
	if !ok {
		return 0
	}
	return ca.entities.Count()
}

// Entities calls fn for every entity c is aware of.
func (t *Table) Entities(c ClientID, fn func(netID uint16)) {
	ca, ok := t.clients[c]
	if !ok {
		return
	}
	ca.entities.Range(func(x uint32) {
		fn(uint16(x))
	})
}

func (t *Table) RemoveClient(c ClientID) {
	delete(t.clients, c)
}

func (t *Table) Clear() {
	clear(t.clients)
}

func (t *Table) entity(c ClientID, netID uint16) *entityComponents {
	ca, ok := t.clients[c]
	if !ok || !ca.entities.Contains(uint32(netID)) {
		return nil
	}
	return ca.components[netID]
}
