package main

import (
	"math"

	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/QYUbit/netsync/pkg/ecs"
	"github.com/QYUbit/netsync/pkg/netsync"
	"github.com/QYUbit/netsync/pkg/replication"
	"github.com/QYUbit/netsync/pkg/rpcbus"
	"github.com/QYUbit/netsync/pkg/state"
	"github.com/QYUbit/netsync/pkg/transport"
)

const (
	avatarPrefab = "demo.avatar"
	arenaSize    = 100.0
	moveSpeed    = 20.0
)

type Chat struct {
	From transport.ClientID
	Text string
}

type Move struct {
	DX, DY float64
}

type Position struct {
	X state.Var[float64]
	Y state.Var[float64]
}

func (p *Position) NetVars() []state.Slot { return []state.Slot{&p.X, &p.Y} }

type Score struct {
	Points state.Var[int32]
}

func (s *Score) NetVars() []state.Slot { return []state.Slot{&s.Points} }

// Owner ties an avatar to its client on the authority. Never replicated.
type Owner struct {
	Client transport.ClientID
}

// Avatar is attached by the prefab on every peer that spawns one.
type Avatar struct{}

func newRegistries() (*netsync.Registries, error) {
	r := netsync.NewRegistries()
	if err := netsync.RegisterRPC[Chat](r, "demo.chat", transport.ReliableOrdered); err != nil {
		return nil, err
	}
	if err := netsync.RegisterRPC[Move](r, "demo.move", transport.Unreliable); err != nil {
		return nil, err
	}
	if err := netsync.RegisterComponent[Position](r, "demo.position"); err != nil {
		return nil, err
	}
	if err := netsync.RegisterComponent[Score](r, "demo.score"); err != nil {
		return nil, err
	}
	if err := netsync.RegisterPrefab(r, avatarPrefab, func(w *ecs.World, e ecs.Entity) error {
		_, err := ecs.Add(w, e, Avatar{})
		return err
	}); err != nil {
		return nil, err
	}
	return r, nil
}

func newWorld() *ecs.World {
	w := ecs.NewWorld()
	ecs.RegisterComponent[Position](w)
	ecs.RegisterComponent[Score](w)
	ecs.RegisterComponent[Owner](w)
	ecs.RegisterComponent[Avatar](w)
	return w
}

// arena is the authoritative simulation run by servers and hosts.
type arena struct {
	server  *netsync.Server
	bus     *rpcbus.Bus
	avatars map[transport.ClientID]ecs.Entity
	logger  axlog.Logger
}

func newArena(server *netsync.Server, logger axlog.Logger) *arena {
	bus := rpcbus.New()
	rpcbus.Register[Chat](bus)
	rpcbus.Register[Move](bus)
	server.Hub().Attach(bus)

	a := &arena{
		server:  server,
		bus:     bus,
		avatars: make(map[transport.ClientID]ecs.Entity),
		logger:  logger,
	}
	server.OnClientAuthorized(a.join)
	server.OnClientDisconnected(a.leave)
	return a
}

func (a *arena) join(client transport.ClientID) {
	w := a.server.World()
	e := w.CreateEntity()

	if _, err := ecs.Add(w, e, Position{
		X: state.NewInterpolatedVar(arenaSize / 2),
		Y: state.NewInterpolatedVar(arenaSize / 2),
	}); err != nil {
		a.logger.Error("failed adding position", "client", client, "error", err)
		return
	}
	if _, err := ecs.Add(w, e, Score{}); err != nil {
		a.logger.Error("failed adding score", "client", client, "error", err)
		return
	}
	if _, err := ecs.Add(w, e, Owner{Client: client}); err != nil {
		a.logger.Error("failed adding owner", "client", client, "error", err)
		return
	}
	if _, err := ecs.Add(w, e, replication.NetSync{Prefab: avatarPrefab}); err != nil {
		a.logger.Error("failed marking avatar", "client", client, "error", err)
		return
	}

	a.avatars[client] = e
	a.logger.Info("player joined", "client", client, "entity", e)
}

func (a *arena) leave(client transport.ClientID, reason transport.DisconnectReason) {
	e, ok := a.avatars[client]
	if !ok {
		return
	}
	delete(a.avatars, client)

	if err := a.server.World().Destroy(e); err != nil {
		a.logger.Warn("failed destroying avatar", "client", client, "error", err)
	}
	a.logger.Info("player left", "client", client, "reason", reason)
}

func (a *arena) install(s *ecs.Scheduler) {
	s.Add(ecs.OnPreUpdate, a.chatSystem)
	s.Add(ecs.OnUpdate, a.movementSystem)
}

func (a *arena) chatSystem(ctx ecs.SystemContext) {
	err := rpcbus.Drain(a.bus, func(msg Chat, from rpcbus.ClientID) {
		msg.From = from
		a.logger.Info("chat", "client", from, "text", msg.Text)
		if err := a.server.SendToAllExcept(msg, from); err != nil {
			a.logger.Warn("failed relaying chat", "error", err)
		}
	})
	if err != nil {
		a.logger.Error("failed draining chat", "error", err)
	}
}

func (a *arena) movementSystem(ctx ecs.SystemContext) {
	err := rpcbus.Drain(a.bus, func(msg Move, from rpcbus.ClientID) {
		e, ok := a.avatars[from]
		if !ok {
			return
		}
		pos, ok := ecs.Get[Position](ctx.World, e)
		if !ok {
			return
		}

		dx, dy := clampUnit(msg.DX), clampUnit(msg.DY)
		pos.X.Set(clampArena(pos.X.Get() + dx*moveSpeed*ctx.Dt))
		pos.Y.Set(clampArena(pos.Y.Get() + dy*moveSpeed*ctx.Dt))

		if score, ok := ecs.Get[Score](ctx.World, e); ok && (dx != 0 || dy != 0) {
			score.Points.Set(score.Points.Get() + 1)
		}
	})
	if err != nil {
		a.logger.Error("failed draining moves", "error", err)
	}
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

func clampArena(v float64) float64 {
	return math.Max(0, math.Min(arenaSize, v))
}
