// Package transport is the message transport contract netsync runs on.
// Implementations own connection lifecycles, framing and delivery
// guarantees; everything they receive is handed to the simulation goroutine
// as Events.
package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ClientID identifies a connection on the server. 0 is reserved for the
// host's loopback client and is never issued by a transport.
type ClientID = uint16

const LoopbackClient ClientID = 0

type Delivery uint8

const (
	ReliableOrdered Delivery = iota
	ReliableUnordered
	Unreliable
)

func (d Delivery) String() string {
	switch d {
	case ReliableOrdered:
		return "reliable-ordered"
	case ReliableUnordered:
		return "reliable-unordered"
	case Unreliable:
		return "unreliable"
	}
	return fmt.Sprintf("Delivery(%d)", uint8(d))
}

type DisconnectReason uint8

const (
	ReasonUnknown DisconnectReason = iota
	ReasonConnectionFailed
	ReasonTimeout
	ReasonRemoteClose
	ReasonLocalClose
	ReasonRejected
	ReasonProtocolViolation
	ReasonShutdown
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonConnectionFailed:
		return "connection failed"
	case ReasonTimeout:
		return "timeout"
	case ReasonRemoteClose:
		return "remote close"
	case ReasonLocalClose:
		return "local close"
	case ReasonRejected:
		return "rejected"
	case ReasonProtocolViolation:
		return "protocol violation"
	case ReasonShutdown:
		return "shutdown"
	}
	return "unknown"
}

type EventKind uint8

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
	EventError
)

// Event is what a transport hands to the simulation goroutine. Client is
// unset on client transports.
type Event struct {
	Kind       EventKind
	Client     ClientID
	Session    uuid.UUID
	RemoteAddr string
	Data       []byte
	Reason     DisconnectReason
	Err        error
}

// Stats are per-connection traffic counters.
type Stats struct {
	BytesIn    uint64
	BytesOut   uint64
	PacketsIn  uint64
	PacketsOut uint64
	Dropped    uint64
}

// ConnectionValidator decides whether to accept a new connection.
type ConnectionValidator func(remoteAddr string) (accept bool, reason string)

type ServerTransport interface {
	Start(ctx context.Context) error
	Close() error
	Send(client ClientID, data []byte, delivery Delivery) error
	CloseClient(client ClientID, reason DisconnectReason) error
	Clients() []ClientID
	Stats(client ClientID) (Stats, bool)
	Events() <-chan Event
	SetValidator(validator ConnectionValidator)
}

type ClientTransport interface {
	Connect(ctx context.Context) error
	Close() error
	Send(data []byte, delivery Delivery) error
	Stats() Stats
	Events() <-chan Event
}

// Counters is a concurrency safe Stats accumulator for implementations.
type Counters struct {
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
	dropped    atomic.Uint64
}

func (c *Counters) Received(n int) {
	c.bytesIn.Add(uint64(n))
	c.packetsIn.Add(1)
}

func (c *Counters) Sent(n int) {
	c.bytesOut.Add(uint64(n))
	c.packetsOut.Add(1)
}

func (c *Counters) Drop() {
	c.dropped.Add(1)
}

func (c *Counters) Snapshot() Stats {
	return Stats{
		BytesIn:    c.bytesIn.Load(),
		BytesOut:   c.bytesOut.Load(),
		PacketsIn:  c.packetsIn.Load(),
		PacketsOut: c.packetsOut.Load(),
		Dropped:    c.dropped.Load(),
	}
}

// DrainEvents discards every event already queued on ch. Restartable
// transports call it on Start so a new run never sees the previous one.
func DrainEvents(ch chan Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
