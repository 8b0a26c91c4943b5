// Package netsync runs replication sessions on top of a transport. A Server
// owns the authoritative world, a Client mirrors it and a Host is a server
// with an in-process client that never touches the wire.
//
// Sessions are driven from the simulation goroutine: call PollEvents and
// Tick once per simulation tick. Only Start, Stop, Connect and Disconnect
// may be called from other goroutines.
package netsync

import (
	"context"
	"slices"

	"github.com/QYUbit/netsync/pkg/awareness"
	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/QYUbit/netsync/pkg/ecs"
	"github.com/QYUbit/netsync/pkg/netid"
	"github.com/QYUbit/netsync/pkg/replication"
	"github.com/QYUbit/netsync/pkg/rpcbus"
	"github.com/QYUbit/netsync/pkg/state"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

type ClientID = transport.ClientID

type ServerConfig struct {
	Transport  transport.ServerTransport
	Registries *Registries
	World      *ecs.World
	Policy     replication.Policy
	Logger     axlog.Logger
}

type Server struct {
	machine

	transport  transport.ServerTransport
	registries *Registries
	world      *ecs.World
	policy     replication.Policy
	logger     axlog.Logger

	allocator *netid.Allocator
	awareness *awareness.Table
	store     *state.Store
	driver    *replication.Driver
	hub       *rpcbus.Hub

	handshake []byte
	// pending and authorized map a client to its transport session, so
	// events of an earlier connection that used the same id are ignored.
	pending    map[ClientID]uuid.UUID
	authorized map[ClientID]uuid.UUID
	local      *LocalClient

	onAuthorized   []func(ClientID)
	onDisconnected []func(ClientID, transport.DisconnectReason)
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		transport:  cfg.Transport,
		registries: cfg.Registries,
		world:      cfg.World,
		policy:     cfg.Policy,
		logger:     axlog.OrNop(cfg.Logger),
		allocator:  netid.NewAllocator(),
		awareness:  awareness.NewTable(),
		store:      state.NewStore(true),
		hub:        rpcbus.NewHub(),
		pending:    make(map[ClientID]uuid.UUID),
		authorized: make(map[ClientID]uuid.UUID),
	}
	s.role = RoleServer
	if s.registries == nil {
		s.registries = NewRegistries()
	}
	if s.world == nil {
		s.world = ecs.NewWorld()
	}
	return s
}

func (s *Server) World() *ecs.World {
	return s.world
}

// Hub receives every RPC sent by clients.
func (s *Server) Hub() *rpcbus.Hub {
	return s.hub
}

func (s *Server) Registries() *Registries {
	return s.registries
}

// Driver is nil while the server is not running.
func (s *Server) Driver() *replication.Driver {
	return s.driver
}

func (s *Server) OnClientAuthorized(fn func(ClientID)) {
	s.onAuthorized = append(s.onAuthorized, fn)
}

func (s *Server) OnClientDisconnected(fn func(ClientID, transport.DisconnectReason)) {
	s.onDisconnected = append(s.onDisconnected, fn)
}

// Start negotiates runtime ids, starts the transport and begins replicating
// the world.
func (s *Server) Start(ctx context.Context) error {
	if err := s.beginStart(); err != nil {
		return err
	}

	s.reset()
	handshake, err := s.registries.assign()
	if err == nil {
		s.handshake, err = wire.EncodeHandshake(handshake)
	}
	if err != nil {
		s.reset()
		s.set(PhaseStopped)
		return eris.Wrap(err, "failed negotiating type ids")
	}

	if err := s.transport.Start(ctx); err != nil {
		s.reset()
		s.set(PhaseStopped)
		return eris.Wrap(err, "failed starting transport")
	}

	s.driver = replication.NewDriver(replication.DriverConfig{
		World:      s.world,
		Components: s.registries.Components,
		Prefabs:    s.registries.Prefabs,
		Allocator:  s.allocator,
		Store:      s.store,
		Awareness:  s.awareness,
		Policy:     s.policy,
		Send:       s.transport.Send,
		Logger:     s.logger,
	})

	s.set(PhaseStarted)
	s.logger.Info("netsync server started", "role", s.Role().String())
	return nil
}

// Stop disconnects every authorized client with ReasonShutdown, then closes
// the transport.
func (s *Server) Stop() error {
	if err := s.beginStop(); err != nil {
		return err
	}

	clients := make([]ClientID, 0, len(s.authorized))
	for id := range s.authorized {
		clients = append(clients, id)
	}
	slices.Sort(clients)
	for _, id := range clients {
		s.forget(id, transport.ReasonShutdown)
	}

	err := s.transport.Close()
	if s.driver != nil {
		s.driver.Close()
		s.driver = nil
	}
	s.reset()
	s.set(PhaseStopped)
	s.logger.Info("netsync server stopped")
	if err != nil {
		return eris.Wrap(err, "failed closing transport")
	}
	return nil
}

// reset clears everything that only lives for one session.
func (s *Server) reset() {
	s.registries.reset()
	s.allocator.Reset()
	s.awareness.Clear()
	s.store.Clear()
	s.hub.Clear()
	s.handshake = nil
	clear(s.pending)
	clear(s.authorized)
	if s.local != nil {
		s.local.hub.Clear()
	}
}

// PollEvents handles every transport event queued so far without blocking.
func (s *Server) PollEvents() {
	events := s.transport.Events()
	for {
		select {
		case ev := <-events:
			s.handleEvent(ev)
		default:
			return
		}
	}
}

// Tick replicates the world to every authorized client.
func (s *Server) Tick() error {
	if !s.Running() || s.driver == nil {
		return ErrNotRunning
	}
	return s.driver.Tick()
}

func (s *Server) handleEvent(ev transport.Event) {
	if s.Phase() != PhaseStarted {
		return
	}

	switch ev.Kind {
	case transport.EventConnected:
		if _, known := s.session(ev.Client); known {
			s.logger.Warn("client id reused before its disconnect was seen", "client", ev.Client)
			s.forget(ev.Client, transport.ReasonUnknown)
		}
		s.pending[ev.Client] = ev.Session
		if err := s.transport.Send(ev.Client, s.handshake, transport.ReliableOrdered); err != nil {
			s.logger.Warn("failed sending handshake", "client", ev.Client, "error", err)
		}

	case transport.EventMessage:
		if !s.current(ev) {
			return
		}
		if err := s.handleMessage(ev.Client, ev.Data); err != nil {
			s.violation(ev.Client, err)
		}

	case transport.EventDisconnected:
		if !s.current(ev) {
			return
		}
		s.forget(ev.Client, ev.Reason)

	case transport.EventError:
		s.logger.Warn("transport error", "client", ev.Client, "error", ev.Err)
	}
}

func (s *Server) session(client ClientID) (uuid.UUID, bool) {
	if id, ok := s.authorized[client]; ok {
		return id, true
	}
	id, ok := s.pending[client]
	return id, ok
}

// current reports whether ev belongs to the connection the server knows for
// its client id.
func (s *Server) current(ev transport.Event) bool {
	id, ok := s.session(ev.Client)
	if !ok || id != ev.Session {
		s.logger.Debug("dropping event of a stale session", "client", ev.Client, "kind", ev.Kind)
		return false
	}
	return true
}

// forget removes every trace of client and notifies subscribers.
func (s *Server) forget(client ClientID, reason transport.DisconnectReason) {
	delete(s.pending, client)
	if _, ok := s.authorized[client]; ok {
		delete(s.authorized, client)
		s.driver.RemoveClient(client)
	}
	s.logger.Info("client disconnected", "client", client, "reason", reason.String())
	for _, fn := range s.onDisconnected {
		fn(client, reason)
	}
}

func (s *Server) handleMessage(client ClientID, data []byte) error {
	packet, err := wire.Decode(data)
	if err != nil {
		return eris.Wrap(replication.ErrProtocolViolation, err.Error())
	}

	switch p := packet.(type) {
	case wire.HandshakeResponse:
		session, ok := s.pending[client]
		if !ok {
			return eris.Wrapf(replication.ErrProtocolViolation, "unexpected handshake response from %d", client)
		}
		delete(s.pending, client)
		return s.authorize(client, session)

	case wire.RPC:
		if _, ok := s.authorized[client]; !ok {
			return eris.Wrapf(replication.ErrProtocolViolation, "rpc from unauthorized client %d", client)
		}
		rpc, err := s.registries.decodeRPC(p)
		if err != nil {
			return err
		}
		if s.hub.Deliver(rpc, client) == 0 {
			s.logger.Debug("no bus accepted rpc", "type", p.TypeID, "client", client)
		}
		return nil
	}
	return eris.Wrapf(replication.ErrProtocolViolation, "client %d sent %s", client, packet.Kind())
}

func (s *Server) authorize(client ClientID, session uuid.UUID) error {
	s.authorized[client] = session
	if err := s.driver.Authorize(client); err != nil {
		return err
	}
	s.logger.Info("client authorized", "client", client)
	for _, fn := range s.onAuthorized {
		fn(client)
	}
	return nil
}

func (s *Server) violation(client ClientID, err error) {
	s.logger.Error("closing client after protocol error", "client", client, "error", err)
	if err := s.transport.CloseClient(client, transport.ReasonProtocolViolation); err != nil {
		s.logger.Warn("failed closing client", "client", client, "error", err)
	}
}

// Clients returns the authorized clients in ascending order. A host lists
// its loopback client as 0.
func (s *Server) Clients() []ClientID {
	ids := make([]ClientID, 0, len(s.authorized)+1)
	if s.local != nil && s.local.Connected() {
		ids = append(ids, transport.LoopbackClient)
	}
	for id := range s.authorized {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) Stats(client ClientID) (transport.Stats, bool) {
	if client == transport.LoopbackClient {
		return transport.Stats{}, s.local != nil
	}
	return s.transport.Stats(client)
}

// Send delivers rpc to one client. Sends to the loopback client are
// dispatched in process without serialization.
func (s *Server) Send(client ClientID, rpc any) error {
	if !s.Running() {
		return ErrNotRunning
	}
	if client == transport.LoopbackClient {
		return s.sendLocal(rpc)
	}
	if _, ok := s.authorized[client]; !ok {
		return eris.Wrapf(ErrNotAuthorized, "client %d", client)
	}
	data, delivery, err := s.registries.encodeRPC(rpc)
	if err != nil {
		return err
	}
	return s.transport.Send(client, data, delivery)
}

func (s *Server) SendToAll(rpc any) error {
	return s.broadcast(rpc, func(ClientID) bool { return true }, true)
}

func (s *Server) SendToAllExcept(rpc any, except ClientID) error {
	return s.broadcast(rpc, func(c ClientID) bool { return c != except }, except != transport.LoopbackClient)
}

func (s *Server) SendToAllExceptHost(rpc any) error {
	return s.broadcast(rpc, func(ClientID) bool { return true }, false)
}

func (s *Server) broadcast(rpc any, include func(ClientID) bool, loopback bool) error {
	if !s.Running() {
		return ErrNotRunning
	}

	var errs []error
	if loopback && s.local != nil && s.local.Connected() {
		if err := s.sendLocal(rpc); err != nil {
			errs = append(errs, err)
		}
	}

	var (
		data     []byte
		delivery transport.Delivery
	)
	for client := range s.authorized {
		if !include(client) {
			continue
		}
		if data == nil {
			var err error
			if data, delivery, err = s.registries.encodeRPC(rpc); err != nil {
				return err
			}
		}
		if err := s.transport.Send(client, data, delivery); err != nil {
			errs = append(errs, eris.Wrapf(err, "client %d", client))
		}
	}

	if len(errs) > 0 {
		return eris.Wrapf(errs[0], "broadcast failed for %d clients", len(errs))
	}
	return nil
}

func (s *Server) sendLocal(rpc any) error {
	if s.local == nil || !s.local.Connected() {
		return ErrNotHost
	}
	if err := s.registries.checkRPC(rpc); err != nil {
		return err
	}
	s.local.hub.Deliver(rpc, transport.LoopbackClient)
	return nil
}
