// Command netsyncd runs a small replicated arena as a server, a host or a
// client, configured through NETSYNC_* environment variables.
package main

import (
	"bufio"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/QYUbit/netsync/pkg/axlog"
	slogadapter "github.com/QYUbit/netsync/pkg/axlog/slog_adapter"
	zerologadapter "github.com/QYUbit/netsync/pkg/axlog/zerolog_adapter"
	"github.com/QYUbit/netsync/pkg/config"
	"github.com/QYUbit/netsync/pkg/ecs"
	"github.com/QYUbit/netsync/pkg/netsync"
	"github.com/QYUbit/netsync/pkg/rpcbus"
	"github.com/QYUbit/netsync/pkg/transport"
	quictransport "github.com/QYUbit/netsync/pkg/transport/quic"
	websockets "github.com/QYUbit/netsync/pkg/transport/websocket"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

const statsEvery = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "netsyncd: %+v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, "instance", uuid.NewString(), "role", string(cfg.Role))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := readLines(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if cfg.Role == config.RoleClient {
			return runClient(ctx, cfg, logger, lines)
		}
		return runServer(ctx, cfg, logger, lines)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	})
	return g.Wait()
}

func runServer(ctx context.Context, cfg config.Config, logger axlog.Logger, lines <-chan string) error {
	t, err := newServerTransport(cfg, logger)
	if err != nil {
		return err
	}
	registries, err := newRegistries()
	if err != nil {
		return err
	}

	scfg := netsync.ServerConfig{
		Transport:  t,
		Registries: registries,
		World:      newWorld(),
		Logger:     logger,
	}

	var (
		server *netsync.Server
		start  func(context.Context) error
		stop   func() error
		host   *netsync.Host
	)
	if cfg.Role == config.RoleHost {
		host = netsync.NewHost(scfg)
		server, start, stop = host.Server, host.Start, host.Stop
	} else {
		server = netsync.NewServer(scfg)
		start, stop = server.Start, server.Stop
	}

	scheduler := ecs.NewScheduler()
	newArena(server, logger).install(scheduler)

	var localBus *rpcbus.Bus
	if host != nil {
		localBus = rpcbus.New()
		rpcbus.Register[Chat](localBus)
		host.Local().Hub().Attach(localBus)
	}

	if err := start(ctx); err != nil {
		return eris.Wrap(err, "failed starting session")
	}
	defer func() {
		if err := stop(); err != nil {
			logger.Warn("failed stopping session", "error", err)
		}
	}()
	logger.Info("session started", "transport", string(cfg.Transport), "address", cfg.HostPort())

	return loop(ctx, cfg.TickInterval(), func(dt float64) error {
		server.PollEvents()

	input:
		for {
			select {
			case text := <-lines:
				if host == nil {
					if err := server.SendToAll(Chat{Text: text}); err != nil {
						logger.Warn("failed broadcasting", "error", err)
					}
					continue
				}
				if err := host.Local().Send(Chat{Text: text}); err != nil {
					logger.Warn("failed sending chat", "error", err)
				}
			default:
				break input
			}
		}

		if err := scheduler.Tick(server.World(), dt); err != nil {
			return err
		}

		if localBus != nil {
			printChat(localBus, logger)
		}
		return server.Tick()
	}, func() {
		for _, id := range server.Clients() {
			if stats, ok := server.Stats(id); ok {
				logger.Info("client stats", "client", id,
					"bytes_in", stats.BytesIn, "bytes_out", stats.BytesOut,
					"packets_in", stats.PacketsIn, "packets_out", stats.PacketsOut)
			}
		}
	})
}

func runClient(ctx context.Context, cfg config.Config, logger axlog.Logger, lines <-chan string) error {
	t, err := newClientTransport(cfg)
	if err != nil {
		return err
	}
	registries, err := newRegistries()
	if err != nil {
		return err
	}

	client := netsync.NewClient(netsync.ClientConfig{
		Transport:      t,
		Registries:     registries,
		World:          newWorld(),
		Logger:         logger,
		ConnectTimeout: cfg.Timeout,
	})

	disconnected := make(chan transport.DisconnectReason, 1)
	client.OnDisconnected(func(reason transport.DisconnectReason) {
		select {
		case disconnected <- reason:
		default:
		}
	})

	bus := rpcbus.New()
	rpcbus.Register[Chat](bus)
	client.Hub().Attach(bus)

	if err := client.Connect(ctx); err != nil {
		return eris.Wrapf(err, "failed connecting to %s", cfg.HostPort())
	}
	defer client.Disconnect()
	logger.Info("connected", "address", cfg.HostPort())

	return loop(ctx, cfg.TickInterval(), func(float64) error {
		client.PollEvents()

		select {
		case reason := <-disconnected:
			return eris.Errorf("disconnected: %s", reason)
		default:
		}

		select {
		case text := <-lines:
			if err := client.Send(Chat{Text: text}); err != nil {
				logger.Warn("failed sending chat", "error", err)
			}
		default:
		}

		if err := client.Send(Move{DX: rand.Float64()*2 - 1, DY: rand.Float64()*2 - 1}); err != nil {
			logger.Warn("failed sending move", "error", err)
		}

		printChat(bus, logger)
		return nil
	}, func() {
		w := client.World()
		for row := range ecs.Query2[Avatar, Position](w) {
			logger.Info("avatar", "entity", row.Entity, "x", row.Second.X.Get(), "y", row.Second.Y.Get())
		}
		stats := client.Stats()
		logger.Info("stats", "bytes_in", stats.BytesIn, "bytes_out", stats.BytesOut)
	})
}

// loop calls tick at the given interval until ctx is done, and report every
// statsEvery.
func loop(ctx context.Context, interval time.Duration, tick func(dt float64) error, report func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	stats := time.NewTicker(statsEvery)
	defer stats.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if err := tick(dt); err != nil {
				return err
			}
		case <-stats.C:
			report()
		}
	}
}

func printChat(bus *rpcbus.Bus, logger axlog.Logger) {
	_ = rpcbus.Drain(bus, func(msg Chat, _ rpcbus.ClientID) {
		logger.Info("chat received", "from", msg.From, "text", msg.Text)
	})
}

// readLines forwards stdin lines until ctx is done or stdin closes.
func readLines(ctx context.Context) <-chan string {
	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func newLogger(cfg config.Config, keysAndValues ...any) (axlog.Logger, error) {
	if cfg.LogBackend == "slog" {
		l, err := slogadapter.NewFromOptions(slogadapter.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
		if err != nil {
			return nil, err
		}
		return l.With(keysAndValues...), nil
	}

	l, err := zerologadapter.NewFromOptions(zerologadapter.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err != nil {
		return nil, err
	}
	return l.With(keysAndValues...), nil
}

func newServerTransport(cfg config.Config, logger axlog.Logger) (transport.ServerTransport, error) {
	switch cfg.Transport {
	case config.TransportWebsocket:
		return websockets.NewServer(cfg.HostPort(), cfg.MaxClients, logger), nil
	default:
		tlsConf, err := quictransport.SelfSignedTLS()
		if err != nil {
			return nil, err
		}
		return quictransport.NewServer(cfg.HostPort(), tlsConf, quicConfig(cfg), cfg.MaxClients, logger), nil
	}
}

func newClientTransport(cfg config.Config) (transport.ClientTransport, error) {
	switch cfg.Transport {
	case config.TransportWebsocket:
		return websockets.NewClient("ws://" + cfg.HostPort() + "/"), nil
	default:
		return quictransport.NewClient(cfg.HostPort(), quictransport.InsecureClientTLS(), quicConfig(cfg)), nil
	}
}

func quicConfig(cfg config.Config) *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: cfg.Timeout,
		MaxIdleTimeout:       cfg.Timeout * 2,
		KeepAlivePeriod:      cfg.Timeout / 2,
	}
}
