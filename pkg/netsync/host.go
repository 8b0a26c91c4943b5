package netsync

import (
	"context"

	"github.com/QYUbit/netsync/pkg/rpcbus"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/rotisserie/eris"
)

// Host is a server with a loopback client in the same process. The loopback
// client shares the server's world, so it needs no replication, and RPCs
// between the two are handed over as values.
//
// A host publishes its own RoleHost transitions around those of its server
// and its loopback client.
type Host struct {
	*Server
	machine
}

func NewHost(cfg ServerConfig) *Host {
	s := NewServer(cfg)
	s.local = &LocalClient{server: s, hub: rpcbus.NewHub()}
	s.local.role = RoleClient
	h := &Host{Server: s}
	h.role = RoleHost
	return h
}

// OnStateChanged registers fn for the transitions of the host, its server
// and its loopback client.
func (h *Host) OnStateChanged(fn func(StateChange)) {
	h.machine.OnStateChanged(fn)
	h.Server.OnStateChanged(fn)
	h.local.OnStateChanged(fn)
}

// Start starts the server, then connects the loopback client.
func (h *Host) Start(ctx context.Context) error {
	if err := h.beginStart(); err != nil {
		return err
	}
	if err := h.Server.Start(ctx); err != nil {
		h.set(PhaseStopped)
		return err
	}
	if err := h.local.connect(); err != nil {
		_ = h.Server.Stop()
		h.set(PhaseStopped)
		return err
	}
	h.set(PhaseStarted)
	return nil
}

// Stop disconnects the loopback client, then stops the server.
func (h *Host) Stop() error {
	if err := h.beginStop(); err != nil {
		return err
	}
	h.local.disconnect(transport.ReasonLocalClose)
	err := h.Server.Stop()
	h.set(PhaseStopped)
	return err
}

func (h *Host) Local() *LocalClient {
	return h.local
}

// LocalClient is the host's own client.
type LocalClient struct {
	machine

	server *Server
	hub    *rpcbus.Hub
}

// Hub receives every RPC the host server sends to its loopback client.
func (c *LocalClient) Hub() *rpcbus.Hub {
	return c.hub
}

func (c *LocalClient) Connected() bool {
	return c.Running()
}

func (c *LocalClient) connect() error {
	if err := c.beginStart(); err != nil {
		return err
	}
	if err := c.server.driver.Authorize(transport.LoopbackClient); err != nil {
		c.set(PhaseStopped)
		return eris.Wrap(err, "failed authorizing loopback client")
	}
	c.set(PhaseStarted)
	for _, fn := range c.server.onAuthorized {
		fn(transport.LoopbackClient)
	}
	return nil
}

func (c *LocalClient) disconnect(reason transport.DisconnectReason) {
	if err := c.beginStop(); err != nil {
		return
	}
	for _, fn := range c.server.onDisconnected {
		fn(transport.LoopbackClient, reason)
	}
	c.set(PhaseStopped)
}

// Send hands rpc to the server's hub as if it came from client 0.
func (c *LocalClient) Send(rpc any) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if err := c.server.registries.checkRPC(rpc); err != nil {
		return err
	}
	c.server.hub.Deliver(rpc, transport.LoopbackClient)
	return nil
}
