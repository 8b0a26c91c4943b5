// Package registry maps local Go types to build-stable hashes and, once a
// session has negotiated them, to compact runtime ids.
//
// A Registry is not safe for concurrent use. It is owned by the simulation
// goroutine like the rest of the replication state.
package registry

import (
	"cmp"
	"math"
	"reflect"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
)

// Mapping is one negotiated hash to runtime id pair.
type Mapping struct {
	Hash uint64
	ID   uint16
}

// Entry is a locally registered type together with its descriptor.
type Entry[D any] struct {
	Name string
	Hash uint64
	Type reflect.Type
	Desc D
}

type Registry[D any] struct {
	kind string

	entries []*Entry[D]
	byName  map[string]*Entry[D]
	byType  map[reflect.Type]*Entry[D]
	byHash  map[uint64]*Entry[D]

	idByHash map[uint64]uint16
	byID     map[uint16]*Entry[D]
	assigned bool
}

// New creates an empty registry. kind is used in error messages only.
func New[D any](kind string) *Registry[D] {
	return &Registry[D]{
		kind:     kind,
		byName:   make(map[string]*Entry[D]),
		byType:   make(map[reflect.Type]*Entry[D]),
		byHash:   make(map[uint64]*Entry[D]),
		idByHash: make(map[uint64]uint16),
		byID:     make(map[uint16]*Entry[D]),
	}
}

// Hash derives the content-stable hash for a type name.
func Hash(name string) uint64 {
	return xxhash.Sum64String(name)
}

func (r *Registry[D]) Kind() string {
	return r.kind
}

// RegisterLocal adds a type to the local catalog and returns its hash.
// typ may be nil for catalogs that are keyed by name only, such as prefabs.
func (r *Registry[D]) RegisterLocal(name string, typ reflect.Type, desc D) (uint64, error) {
	if _, ok := r.byName[name]; ok {
		return 0, eris.Wrapf(ErrDuplicateName, "%s %q", r.kind, name)
	}
	if typ != nil {
		if _, ok := r.byType[typ]; ok {
			return 0, eris.Wrapf(ErrDuplicateType, "%s %s", r.kind, typ)
		}
	}

	h := Hash(name)
	if other, ok := r.byHash[h]; ok {
		return 0, eris.Wrapf(ErrHashCollision, "%s %q and %q", r.kind, name, other.Name)
	}

	e := &Entry[D]{Name: name, Hash: h, Type: typ, Desc: desc}
	r.entries = append(r.entries, e)
	r.byName[name] = e
	r.byHash[h] = e
	if typ != nil {
		r.byType[typ] = e
	}
	return h, nil
}

// AssignRuntimeIDs gives every local type a runtime id, in registration
// order starting at 1. Server only, once per session.
func (r *Registry[D]) AssignRuntimeIDs() ([]Mapping, error) {
	if r.assigned {
		return nil, eris.Wrap(ErrAlreadyAssigned, r.kind)
	}
	if len(r.entries) > math.MaxUint16 {
		return nil, eris.Wrapf(ErrTooManyTypes, "%s: %d", r.kind, len(r.entries))
	}

	mappings := make([]Mapping, 0, len(r.entries))
	for i, e := range r.entries {
		id := uint16(i + 1)
		r.idByHash[e.Hash] = id
		r.byID[id] = e
		mappings = append(mappings, Mapping{Hash: e.Hash, ID: id})
	}
	r.assigned = true
	return mappings, nil
}

// Learn records a runtime id received from the server. Hashes unknown to
// this build are dropped and reported with false.
func (r *Registry[D]) Learn(hash uint64, id uint16) bool {
	e, ok := r.byHash[hash]
	if !ok {
		return false
	}
	if old, ok := r.idByHash[hash]; ok {
		delete(r.byID, old)
	}
	r.idByHash[hash] = id
	r.byID[id] = e
	r.assigned = true
	return true
}

// IDOf returns the runtime id negotiated for typ.
func (r *Registry[D]) IDOf(typ reflect.Type) (uint16, error) {
	e, ok := r.byType[typ]
	if !ok {
		return 0, eris.Wrapf(ErrUnregisteredType, "%s %s", r.kind, typ)
	}
	id, ok := r.idByHash[e.Hash]
	if !ok {
		return 0, eris.Wrapf(ErrUnregisteredType, "%s %s has no runtime id", r.kind, typ)
	}
	return id, nil
}

// IDOfName returns the runtime id negotiated for the type registered as name.
func (r *Registry[D]) IDOfName(name string) (uint16, error) {
	e, ok := r.byName[name]
	if !ok {
		return 0, eris.Wrapf(ErrUnregisteredType, "%s %q", r.kind, name)
	}
	id, ok := r.idByHash[e.Hash]
	if !ok {
		return 0, eris.Wrapf(ErrUnregisteredType, "%s %q has no runtime id", r.kind, name)
	}
	return id, nil
}

// Lookup resolves a runtime id to its local entry.
func (r *Registry[D]) Lookup(id uint16) (*Entry[D], error) {
	e, ok := r.byID[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownRuntimeID, "%s id %d", r.kind, id)
	}
	return e, nil
}

// Local returns the entry registered for typ, regardless of negotiation.
func (r *Registry[D]) Local(typ reflect.Type) (*Entry[D], bool) {
	e, ok := r.byType[typ]
	return e, ok
}

// LocalByName returns the entry registered as name, regardless of negotiation.
func (r *Registry[D]) LocalByName(name string) (*Entry[D], bool) {
	e, ok := r.byName[name]
	return e, ok
}

// Mappings returns the negotiated table ordered by runtime id.
func (r *Registry[D]) Mappings() []Mapping {
	mappings := make([]Mapping, 0, len(r.byID))
	for _, e := range r.entries {
		if id, ok := r.idByHash[e.Hash]; ok {
			mappings = append(mappings, Mapping{Hash: e.Hash, ID: id})
		}
	}
	slices.SortFunc(mappings, func(a, b Mapping) int { return cmp.Compare(a.ID, b.ID) })
	return mappings
}

// Entries returns the local catalog in registration order.
func (r *Registry[D]) Entries() []*Entry[D] {
	return r.entries
}

func (r *Registry[D]) Len() int {
	return len(r.entries)
}

// NegotiatedLen reports how many types currently have a runtime id.
func (r *Registry[D]) NegotiatedLen() int {
	return len(r.byID)
}

// Reset forgets every runtime id. The local catalog is kept.
func (r *Registry[D]) Reset() {
	clear(r.idByHash)
	clear(r.byID)
	r.assigned = false
}
