// Package memory is an in-process transport. Both ends live in the same
// process and exchange copies of every message through buffered channels.
// Delivery is always reliable and ordered.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

var (
	ErrNotStarted      = eris.New("memory server is not started")
	ErrTransportClosed = eris.New("transport is closed")
	ErrNotConnected    = eris.New("memory client is not connected")
	ErrClientNotFound  = eris.New("client not found")
	ErrRejected        = eris.New("connection rejected")
)

const (
	eventBuffer  = 1024
	eventTimeout = time.Second
)

type Server struct {
	mu        sync.RWMutex
	peers     map[transport.ClientID]*Client
	ids       *transport.IDPool
	events    chan transport.Event
	validator transport.ConnectionValidator

	started atomic.Bool
	closed  atomic.Bool
}

func NewServer(maxClients int) *Server {
	return &Server{
		peers:  make(map[transport.ClientID]*Client),
		ids:    transport.NewIDPool(maxClients),
		events: make(chan transport.Event, eventBuffer),
	}
}

// Start opens the server. A closed server may be started again; events left
// over from the previous run are discarded.
func (s *Server) Start(ctx context.Context) error {
	if s.started.Load() {
		return nil
	}
	transport.DrainEvents(s.events)
	s.closed.Store(false)
	s.started.Store(true)
	return nil
}

func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[transport.ClientID]*Client)
	s.mu.Unlock()

	for id, c := range peers {
		s.ids.Release(id)
		c.dropped(transport.ReasonShutdown)
	}
	s.started.Store(false)
	return nil
}

func (s *Server) SetValidator(validator transport.ConnectionValidator) {
	s.validator = validator
}

// Dial returns an unconnected client for this server.
func (s *Server) Dial() *Client {
	return &Client{
		server: s,
		events: make(chan transport.Event, eventBuffer),
	}
}

func (s *Server) Send(id transport.ClientID, data []byte, _ transport.Delivery) error {
	if s.closed.Load() {
		return ErrTransportClosed
	}
	s.mu.RLock()
	c, ok := s.peers[id]
	s.mu.RUnlock()
	if !ok {
		return eris.Wrapf(ErrClientNotFound, "client %d", id)
	}

	c.stats.Received(len(data))
	c.serverStats.Sent(len(data))
	if !push(c.events, transport.Event{Kind: transport.EventMessage, Session: c.session, Data: slices.Clone(data)}) {
		c.stats.Drop()
		return eris.Errorf("timeout sending message to client %d", id)
	}
	return nil
}

func (s *Server) CloseClient(id transport.ClientID, reason transport.DisconnectReason) error {
	c, ok := s.remove(id)
	if !ok {
		return eris.Wrapf(ErrClientNotFound, "client %d", id)
	}
	c.dropped(reason)
	push(s.events, transport.Event{Kind: transport.EventDisconnected, Client: id, Session: c.session, Reason: reason})
	s.ids.Release(id)
	return nil
}

func (s *Server) Clients() []transport.ClientID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]transport.ClientID, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) Stats(id transport.ClientID) (transport.Stats, bool) {
	s.mu.RLock()
	c, ok := s.peers[id]
	s.mu.RUnlock()
	if !ok {
		return transport.Stats{}, false
	}
	return c.serverStats.Snapshot(), true
}

func (s *Server) Events() <-chan transport.Event {
	return s.events
}

func (s *Server) register(c *Client) (transport.ClientID, error) {
	if s.closed.Load() {
		return 0, ErrTransportClosed
	}
	if !s.started.Load() {
		return 0, ErrNotStarted
	}
	if s.validator != nil {
		if accept, reason := s.validator(c.addr()); !accept {
			return 0, eris.Wrap(ErrRejected, reason)
		}
	}
	id, err := s.ids.Acquire()
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.peers[id] = c
	s.mu.Unlock()
	return id, nil
}

func (s *Server) remove(id transport.ClientID) (*Client, bool) {
	s.mu.Lock()
	c, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	return c, ok
}

type Client struct {
	server  *Server
	events  chan transport.Event
	id      transport.ClientID
	session uuid.UUID

	connected   atomic.Bool
	stats       transport.Counters
	serverStats transport.Counters
}

func (c *Client) addr() string {
	return fmt.Sprintf("memory:%p", c)
}

// ID returns the id the server assigned on Connect.
func (c *Client) ID() transport.ClientID {
	return c.id
}

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.connected.Load() {
		return eris.New("memory client already connected")
	}
	id, err := c.server.register(c)
	if err != nil {
		push(c.events, transport.Event{Kind: transport.EventDisconnected, Reason: transport.ReasonConnectionFailed, Err: err})
		return err
	}
	c.id = id
	c.session = uuid.New()
	c.connected.Store(true)

	push(c.events, transport.Event{Kind: transport.EventConnected, Session: c.session, RemoteAddr: "memory:server"})
	push(c.server.events, transport.Event{Kind: transport.EventConnected, Client: id, Session: c.session, RemoteAddr: c.addr()})
	return nil
}

func (c *Client) Close() error {
	if !c.connected.Load() {
		return nil
	}
	if _, ok := c.server.remove(c.id); ok {
		push(c.server.events, transport.Event{Kind: transport.EventDisconnected, Client: c.id, Session: c.session, Reason: transport.ReasonRemoteClose})
		c.server.ids.Release(c.id)
	}
	c.dropped(transport.ReasonLocalClose)
	return nil
}

func (c *Client) Send(data []byte, _ transport.Delivery) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	c.stats.Sent(len(data))
	c.serverStats.Received(len(data))
	if !push(c.server.events, transport.Event{Kind: transport.EventMessage, Client: c.id, Session: c.session, Data: slices.Clone(data)}) {
		c.stats.Drop()
		return eris.New("timeout sending message to server")
	}
	return nil
}

func (c *Client) Stats() transport.Stats {
	return c.stats.Snapshot()
}

func (c *Client) Events() <-chan transport.Event {
	return c.events
}

func (c *Client) dropped(reason transport.DisconnectReason) {
	if c.connected.CompareAndSwap(true, false) {
		push(c.events, transport.Event{Kind: transport.EventDisconnected, Session: c.session, Reason: reason})
	}
}

func push(ch chan transport.Event, ev transport.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-time.After(eventTimeout):
		return false
	}
}
