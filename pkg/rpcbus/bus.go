// Package rpcbus buffers decoded RPCs per world so that application code
// reads them in one batch at a fixed point of the tick.
package rpcbus

import (
	"reflect"
	"sync"

	"github.com/rotisserie/eris"
)

var ErrNotRegistered = eris.New("rpc type has no buffer on this bus")

type ClientID = uint16

// Envelope is one received RPC and the client it came from. On the client
// side From is always the server, which is reported as 0.
type Envelope[T any] struct {
	RPC  T
	From ClientID
}

type typedBuffer interface {
	pushAny(v any, from ClientID) bool
	clear()
	len() int
}

type buffer[T any] struct {
	read      []Envelope[T]
	write     []Envelope[T]
	writeSafe []Envelope[T]
	mu        sync.Mutex // For writeSafe
	draining  bool
}

func (b *buffer[T]) push(rpc T, from ClientID) {
	b.write = append(b.write, Envelope[T]{RPC: rpc, From: from})
}

func (b *buffer[T]) pushSafe(rpc T, from ClientID) {
	b.mu.Lock()
	b.writeSafe = append(b.writeSafe, Envelope[T]{RPC: rpc, From: from})
	b.mu.Unlock()
}

func (b *buffer[T]) pushAny(v any, from ClientID) bool {
	rpc, ok := v.(T)
	if !ok {
		return false
	}
	b.push(rpc, from)
	return true
}

// swap moves everything written so far into the read batch.
func (b *buffer[T]) swap() {
	b.mu.Lock()
	ws := b.writeSafe
	b.writeSafe = b.writeSafe[:0:0]
	b.mu.Unlock()

	b.read = b.read[:0]
	b.read = append(b.read, b.write...)
	b.read = append(b.read, ws...)

	clear(b.write)
	b.write = b.write[:0]
}

func (b *buffer[T]) clear() {
	b.mu.Lock()
	b.writeSafe = nil
	b.mu.Unlock()
	b.read = nil
	b.write = nil
}

func (b *buffer[T]) len() int {
	b.mu.Lock()
	n := len(b.writeSafe)
	b.mu.Unlock()
	return len(b.write) + n
}

// Bus holds one buffer per RPC type for one world.
type Bus struct {
	buffers map[reflect.Type]typedBuffer
}

func New() *Bus {
	return &Bus{buffers: make(map[reflect.Type]typedBuffer)}
}

// Register allocates the buffer for T. Registering twice is a no-op.
func Register[T any](b *Bus) {
	t := reflect.TypeFor[T]()
	if _, ok := b.buffers[t]; ok {
		return
	}
	b.buffers[t] = &buffer[T]{}
}

func bufferFor[T any](b *Bus) (*buffer[T], bool) {
	tb, ok := b.buffers[reflect.TypeFor[T]()]
	if !ok {
		return nil, false
	}
	buf, ok := tb.(*buffer[T])
	return buf, ok
}

// Push appends rpc to the buffer for T. It must be called from the
// simulation goroutine.
func Push[T any](b *Bus, rpc T, from ClientID) error {
	buf, ok := bufferFor[T](b)
	if !ok {
		return eris.Wrapf(ErrNotRegistered, "%s", reflect.TypeFor[T]())
	}
	buf.push(rpc, from)
	return nil
}

// PushSafe is Push for callers on other goroutines.
func PushSafe[T any](b *Bus, rpc T, from ClientID) error {
	buf, ok := bufferFor[T](b)
	if !ok {
		return eris.Wrapf(ErrNotRegistered, "%s", reflect.TypeFor[T]())
	}
	buf.pushSafe(rpc, from)
	return nil
}

// PushAny appends a value whose dynamic type is a registered RPC type.
// It reports false when the bus has no buffer for it.
func (b *Bus) PushAny(rpc any, from ClientID) bool {
	tb, ok := b.buffers[reflect.TypeOf(rpc)]
	if !ok {
		return false
	}
	return tb.pushAny(rpc, from)
}

// Drain hands every RPC of type T received since the previous drain to fn,
// then clears them. RPCs pushed while fn runs are kept for the next drain.
func Drain[T any](b *Bus, fn func(rpc T, from ClientID)) error {
	buf, ok := bufferFor[T](b)
	if !ok {
		return eris.Wrapf(ErrNotRegistered, "%s", reflect.TypeFor[T]())
	}
	if buf.draining {
		return eris.Errorf("drain of %s re-entered", reflect.TypeFor[T]())
	}
	buf.swap()
	buf.draining = true
	defer func() {
		buf.draining = false
		clear(buf.read)
		buf.read = buf.read[:0]
	}()
	for _, env := range buf.read {
		fn(env.RPC, env.From)
	}
	return nil
}

// Pending reports how many RPCs of type T wait for the next drain.
func Pending[T any](b *Bus) int {
	buf, ok := bufferFor[T](b)
	if !ok {
		return 0
	}
	return buf.len()
}

// Clear drops every buffered RPC on the bus.
func (b *Bus) Clear() {
	for _, tb := range b.buffers {
		tb.clear()
	}
}

// Hub fans received RPCs out to every attached world's bus.
type Hub struct {
	buses []*Bus
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) Attach(b *Bus) {
	for _, existing := range h.buses {
		if existing == b {
			return
		}
	}
	h.buses = append(h.buses, b)
}

func (h *Hub) Detach(b *Bus) {
	for i, existing := range h.buses {
		if existing == b {
			h.buses = append(h.buses[:i:i], h.buses[i+1:]...)
			return
		}
	}
}

// Deliver pushes rpc into every attached bus that registered its type and
// reports how many accepted it.
func (h *Hub) Deliver(rpc any, from ClientID) int {
	n := 0
	for _, b := range h.buses {
		if b.PushAny(rpc, from) {
			n++
		}
	}
	return n
}

func (h *Hub) Clear() {
	for _, b := range h.buses {
		b.Clear()
	}
}
