// Package config loads netsyncd settings from the environment.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

type Role string

const (
	RoleServer Role = "server"
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

type TransportKind string

const (
	TransportQUIC      TransportKind = "quic"
	TransportWebsocket TransportKind = "websocket"
)

// Config holds the settings of a netsyncd process.
type Config struct {
	// Address the server binds to, or the client dials.
	Address string `env:"NETSYNC_ADDRESS" envDefault:"127.0.0.1"`

	Port uint16 `env:"NETSYNC_PORT" envDefault:"7777"`

	Transport TransportKind `env:"NETSYNC_TRANSPORT" envDefault:"quic"`

	// Timeout bounds connecting and the handshake.
	Timeout time.Duration `env:"NETSYNC_TIMEOUT" envDefault:"5s"`

	// TickRate is the number of simulation ticks per second.
	TickRate float64 `env:"NETSYNC_TICK_RATE" envDefault:"30"`

	MaxClients int `env:"NETSYNC_MAX_CLIENTS" envDefault:"64"`

	// Log level configuration ("debug", "info", "warn", "error").
	LogLevel string `env:"NETSYNC_LOG_LEVEL" envDefault:"info"`

	LogPretty bool `env:"NETSYNC_LOG_PRETTY" envDefault:"false"`

	// LogBackend selects the logger implementation ("zerolog", "slog").
	LogBackend string `env:"NETSYNC_LOG_BACKEND" envDefault:"zerolog"`

	Role Role `env:"NETSYNC_ROLE" envDefault:"host"`
}

// Load loads the configuration from environment variables.
func Load() (Config, error) {
	cfg := Config{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse netsync config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate netsync config")
	}

	return cfg, nil
}

// HostPort joins Address and Port.
func (cfg *Config) HostPort() string {
	return net.JoinHostPort(cfg.Address, strconv.Itoa(int(cfg.Port)))
}

// TickInterval is the duration of one simulation tick.
func (cfg *Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / cfg.TickRate)
}

func (cfg *Config) validate() error {
	if cfg.Address == "" {
		return eris.New("address cannot be empty")
	}
	if cfg.Port == 0 {
		return eris.New("port cannot be 0")
	}

	switch cfg.Transport {
	case TransportQUIC, TransportWebsocket:
	default:
		return eris.Errorf("invalid transport: %s (must be 'quic' or 'websocket')", cfg.Transport)
	}

	switch cfg.Role {
	case RoleServer, RoleHost, RoleClient:
	default:
		return eris.Errorf("invalid role: %s (must be 'server', 'host' or 'client')", cfg.Role)
	}

	if cfg.Timeout <= 0 {
		return eris.New("timeout must be positive")
	}
	if cfg.TickRate <= 0 || cfg.TickRate > 1000 {
		return eris.New("tick rate must be between 0 and 1000")
	}
	if cfg.MaxClients < 1 || cfg.MaxClients > 65535 {
		return eris.New("max clients must be between 1 and 65535")
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", cfg.LogLevel)
	}

	switch cfg.LogBackend {
	case "zerolog", "slog":
	default:
		return eris.Errorf("invalid log backend: %s (must be 'zerolog' or 'slog')", cfg.LogBackend)
	}

	return nil
}
