package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Address)
	assert.Equal(t, uint16(7777), cfg.Port)
	assert.Equal(t, TransportQUIC, cfg.Transport)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, RoleHost, cfg.Role)
	assert.Equal(t, "zerolog", cfg.LogBackend)
	assert.Equal(t, "127.0.0.1:7777", cfg.HostPort())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("NETSYNC_ADDRESS", "0.0.0.0")
	t.Setenv("NETSYNC_PORT", "9000")
	t.Setenv("NETSYNC_TRANSPORT", "websocket")
	t.Setenv("NETSYNC_TIMEOUT", "250ms")
	t.Setenv("NETSYNC_TICK_RATE", "20")
	t.Setenv("NETSYNC_ROLE", "client")
	t.Setenv("NETSYNC_LOG_PRETTY", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.HostPort())
	assert.Equal(t, TransportWebsocket, cfg.Transport)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, RoleClient, cfg.Role)
	assert.True(t, cfg.LogPretty)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"transport", "NETSYNC_TRANSPORT", "udp"},
		{"role", "NETSYNC_ROLE", "observer"},
		{"log level", "NETSYNC_LOG_LEVEL", "loud"},
		{"tick rate", "NETSYNC_TICK_RATE", "0"},
		{"max clients", "NETSYNC_MAX_CLIENTS", "0"},
		{"log backend", "NETSYNC_LOG_BACKEND", "logrus"},
		{"timeout", "NETSYNC_TIMEOUT", "-1s"},
		{"port", "NETSYNC_PORT", "not-a-port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
