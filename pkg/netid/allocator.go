// Package netid issues the 16-bit network ids that identify replicated
// entities within one session.
package netid

import (
	"math"

	"github.com/rotisserie/eris"
)

// Invalid is never issued.
const Invalid uint16 = 0

var ErrExhausted = eris.New("all network ids are in use")

// Allocator is a recycling stack seeded at 1. Ids handed back with Release
// pass through two Flush calls before they can be issued again, so a Destroy
// for the old entity is always sent before a Create reusing its id.
type Allocator struct {
	next    uint32
	free    []uint16
	pending []uint16
	cooling []uint16
	live    int
}

func NewAllocator() *Allocator {
	return &Allocator{next: 1}
}

// Next pops a recycled id if one is available, otherwise it issues a fresh one.
func (a *Allocator) Next() (uint16, error) {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		a.live++
		return id, nil
	}
	if a.next > math.MaxUint16 {
		return Invalid, ErrExhausted
	}
	id := uint16(a.next)
	a.next++
	a.live++
	return id, nil
}

// Recycle makes id available to the next call to Next.
func (a *Allocator) Recycle(id uint16) {
	if id == Invalid {
		return
	}
	a.free = append(a.free, id)
	a.live--
}

// Release quarantines id until two Flush calls have passed.
func (a *Allocator) Release(id uint16) {
	if id == Invalid {
		return
	}
	a.pending = append(a.pending, id)
	a.live--
}

// Flush advances the quarantine by one replication pass.
func (a *Allocator) Flush() {
	a.free = append(a.free, a.cooling...)
	a.cooling = append(a.cooling[:0], a.pending...)
	a.pending = a.pending[:0]
}

// Live reports how many issued ids have not been handed back.
func (a *Allocator) Live() int {
	return a.live
}

// Reset forgets every issued and recycled id and restarts at 1.
func (a *Allocator) Reset() {
	a.next = 1
	a.free = a.free[:0]
	a.pending = a.pending[:0]
	a.cooling = a.cooling[:0]
	a.live = 0
}
