package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "primary", cfg.Model.Kind)
	assert.Equal(t, 0.8, cfg.Model.Temperature)
	assert.Equal(t, 2048, cfg.Model.MaxTokens)
	assert.Equal(t, "/rs", cfg.Chat.ResetCommand)
	assert.Equal(t, 10, cfg.Chat.MaxTurns)
	assert.Equal(t, 100, cfg.Chat.ChatQuota)
	assert.Equal(t, 24, cfg.Chat.HistoryTTLHours)
	assert.Equal(t, "badger", cfg.Store.UsageBackend)
	assert.False(t, cfg.Debug)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LARKBRIDGE_MODEL_KIND", "mock")
	t.Setenv("LARKBRIDGE_CHAT_RESET_COMMAND", "/clear")
	t.Setenv("LARKBRIDGE_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Model.Kind)
	assert.Equal(t, "/clear", cfg.Chat.ResetCommand)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestMaxRetained(t *testing.T) {
	assert.Equal(t, 21, ChatConfig{MaxTurns: 10}.MaxRetained())
	assert.Equal(t, 5, ChatConfig{MaxTurns: 2}.MaxRetained())
}
