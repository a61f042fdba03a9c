package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() AppConfig {
	var c AppConfig
	c.CHAT.TypingTTL = 5 * time.Second
	c.CHAT.DedupWindow = 30 * time.Second
	c.CHAT.HeartbeatTimeout = 60 * time.Second
	c.CHAT.MaxMessageBytes = 8192
	c.CHAT.HistoryPageSize = 50
	c.CHAT.HistoryPageMax = 100
	c.BUS.Backend = "redis"
	return c
}

func TestValidate_Success(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
}

func TestValidate_ZeroTypingTTL(t *testing.T) {
	c := validConfig()
	c.CHAT.TypingTTL = 0

	err := c.Validate()
	require.Error(t, err, "zero typing TTL should be rejected")
	assert.Contains(t, err.Error(), "TYPING_TTL")
}

func TestValidate_NegativeHeartbeat(t *testing.T) {
	c := validConfig()
	c.CHAT.HeartbeatTimeout = -1 * time.Second

	err := c.Validate()
	require.Error(t, err, "negative heartbeat timeout should be rejected")
	assert.Contains(t, err.Error(), "HEARTBEAT_TIMEOUT")
}

func TestValidate_ZeroDedupWindow(t *testing.T) {
	c := validConfig()
	c.CHAT.DedupWindow = 0

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEDUP_WINDOW")
}

func TestValidate_BadBusBackend(t *testing.T) {
	c := validConfig()
	c.BUS.Backend = "kafka"

	err := c.Validate()
	require.Error(t, err, "unknown bus backend should be rejected")
	assert.Contains(t, err.Error(), "BUS.BACKEND")
}

func TestValidate_NatsWithoutURL(t *testing.T) {
	c := validConfig()
	c.BUS.Backend = "nats"
	c.BUS.NatsUrl = ""

	err := c.Validate()
	require.Error(t, err, "nats backend without a URL should be rejected")
	assert.Contains(t, err.Error(), "NATS_URL")
}

func TestValidate_ZeroHistoryPages(t *testing.T) {
	c := validConfig()
	c.CHAT.HistoryPageMax = 0

	err := c.Validate()
	require.Error(t, err)
}
