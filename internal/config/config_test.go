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

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Server.NodeID)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 45*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, 10*time.Second, cfg.Call.ReconnectGrace)
	assert.Equal(t, "gorm", cfg.Storage.MessageBackend)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 200, cfg.Chat.HistoryMaxPageSize)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "4100")
	t.Setenv("NODE_ID", "node-7")
	t.Setenv("CALL_RING_TIMEOUT", "5s")
	t.Setenv("PRESENCE_STORE", "redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "node-7", cfg.Server.NodeID)
	assert.Equal(t, 5*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, "redis", cfg.Presence.Store)
}
