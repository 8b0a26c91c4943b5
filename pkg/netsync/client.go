package netsync

import (
	"context"
	"time"

	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/QYUbit/netsync/pkg/ecs"
	"github.com/QYUbit/netsync/pkg/replication"
	"github.com/QYUbit/netsync/pkg/rpcbus"
	"github.com/QYUbit/netsync/pkg/state"
	"github.com/QYUbit/netsync/pkg/transport"
	"github.com/QYUbit/netsync/pkg/wire"
	"github.com/rotisserie/eris"
)

const defaultConnectTimeout = 5 * time.Second

type ClientConfig struct {
	Transport      transport.ClientTransport
	Registries     *Registries
	World          *ecs.World
	Logger         axlog.Logger
	ConnectTimeout time.Duration
}

type Client struct {
	machine

	transport  transport.ClientTransport
	registries *Registries
	world      *ecs.World
	logger     axlog.Logger
	timeout    time.Duration

	applier *replication.Applier
	hub     *rpcbus.Hub

	onDisconnected []func(transport.DisconnectReason)
}

func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		transport:  cfg.Transport,
		registries: cfg.Registries,
		world:      cfg.World,
		logger:     axlog.OrNop(cfg.Logger),
		timeout:    cfg.ConnectTimeout,
		hub:        rpcbus.NewHub(),
	}
	c.role = RoleClient
	if c.registries == nil {
		c.registries = NewRegistries()
	}
	if c.world == nil {
		c.world = ecs.NewWorld()
	}
	if c.timeout <= 0 {
		c.timeout = defaultConnectTimeout
	}
	return c
}

func (c *Client) World() *ecs.World {
	return c.world
}

// Hub receives every RPC sent by the server. Envelopes carry From 0.
func (c *Client) Hub() *rpcbus.Hub {
	return c.hub
}

func (c *Client) Registries() *Registries {
	return c.registries
}

// Applier is nil while the client is not connected.
func (c *Client) Applier() *replication.Applier {
	return c.applier
}

func (c *Client) OnDisconnected(fn func(transport.DisconnectReason)) {
	c.onDisconnected = append(c.onDisconnected, fn)
}

// Connect dials the server and blocks until the handshake completed, the
// connection failed or the connect timeout passed. There is no retry.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.beginStart(); err != nil {
		return err
	}
	c.reset()
	c.drain()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.transport.Connect(ctx); err != nil {
		c.set(PhaseStopped)
		return eris.Wrap(err, "failed connecting")
	}

	if err := c.awaitHandshake(ctx); err != nil {
		c.transport.Close()
		c.reset()
		c.set(PhaseStopped)
		return err
	}

	c.applier = replication.NewApplier(replication.ApplierConfig{
		World:      c.world,
		Components: c.registries.Components,
		Prefabs:    c.registries.Prefabs,
		Store:      state.NewStore(false),
		Logger:     c.logger,
	})

	if err := c.transport.Send(wire.EncodeHandshakeResponse(), transport.ReliableOrdered); err != nil {
		c.teardown()
		return eris.Wrap(err, "failed answering handshake")
	}

	c.set(PhaseStarted)
	c.logger.Info("netsync client connected")
	return nil
}

func (c *Client) awaitHandshake(ctx context.Context) error {
	events := c.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return eris.Wrap(ErrHandshake, "timed out waiting for handshake")

		case ev := <-events:
			switch ev.Kind {
			case transport.EventDisconnected:
				return eris.Wrapf(ErrHandshake, "disconnected: %s", ev.Reason)

			case transport.EventMessage:
				packet, err := wire.Decode(ev.Data)
				if err != nil {
					return eris.Wrap(ErrHandshake, err.Error())
				}
				h, ok := packet.(wire.Handshake)
				if !ok {
					return eris.Wrapf(ErrHandshake, "expected handshake, got %s", packet.Kind())
				}
				c.registries.learn(h, c.logger)
				return nil

			case transport.EventError:
				c.logger.Warn("transport error during handshake", "error", ev.Err)
			}
		}
	}
}

// Disconnect closes the connection and drops all mirrored state.
func (c *Client) Disconnect() error {
	if err := c.beginStop(); err != nil {
		return err
	}
	err := c.transport.Close()
	c.teardown()
	if err != nil {
		return eris.Wrap(err, "failed closing transport")
	}
	return nil
}

func (c *Client) teardown() {
	if c.applier != nil {
		c.applier.Close()
		c.applier = nil
	}
	c.reset()
	c.set(PhaseStopped)
}

func (c *Client) reset() {
	c.registries.reset()
	c.hub.Clear()
}

// drain drops events left over from an earlier connection.
func (c *Client) drain() {
	for {
		select {
		case <-c.transport.Events():
		default:
			return
		}
	}
}

// PollEvents applies every packet received so far without blocking.
func (c *Client) PollEvents() {
	events := c.transport.Events()
	for c.Phase() == PhaseStarted {
		select {
		case ev := <-events:
			c.handleEvent(ev)
		default:
			return
		}
	}
}

func (c *Client) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventMessage:
		if err := c.handleMessage(ev.Data); err != nil {
			c.logger.Error("disconnecting after protocol error", "error", err)
			c.transport.Close()
			c.stopped(transport.ReasonProtocolViolation)
		}

	case transport.EventDisconnected:
		c.logger.Info("disconnected from server", "reason", ev.Reason.String())
		c.stopped(ev.Reason)

	case transport.EventError:
		c.logger.Warn("transport error", "error", ev.Err)
	}
}

func (c *Client) stopped(reason transport.DisconnectReason) {
	if err := c.beginStop(); err != nil {
		return
	}
	c.teardown()
	for _, fn := range c.onDisconnected {
		fn(reason)
	}
}

func (c *Client) handleMessage(data []byte) error {
	packet, err := wire.Decode(data)
	if err != nil {
		return eris.Wrap(replication.ErrProtocolViolation, err.Error())
	}

	switch p := packet.(type) {
	case wire.RPC:
		rpc, err := c.registries.decodeRPC(p)
		if err != nil {
			return err
		}
		if c.hub.Deliver(rpc, transport.LoopbackClient) == 0 {
			c.logger.Debug("no bus accepted rpc", "type", p.TypeID)
		}
		return nil

	case wire.CreateEntity, wire.CreateEntityFromPrefab, wire.DestroyEntity, wire.EntityDelta:
		return c.applier.Apply(packet)
	}
	return eris.Wrapf(replication.ErrProtocolViolation, "server sent %s", packet.Kind())
}

// Send encodes rpc and sends it to the server.
func (c *Client) Send(rpc any) error {
	if !c.Running() {
		return ErrNotConnected
	}
	data, delivery, err := c.registries.encodeRPC(rpc)
	if err != nil {
		return err
	}
	return c.transport.Send(data, delivery)
}

func (c *Client) Stats() transport.Stats {
	return c.transport.Stats()
}
