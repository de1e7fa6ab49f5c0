package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	t.Setenv("LADDER_JWT_SECRET", "s3cret")
	path := writeConfig(t, "config.json", `{
		"bot_id": "eth-ladder",
		"owner": "alice",
		"exchange": {"mode": "paper", "symbol": "ETHUSDT"},
		"oracle": {"source": "rest", "freshness_sec": 30},
		"log": {"level": "debug"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "eth-ladder", cfg.BotID)
	assert.Equal(t, "alice", cfg.Owner)
	assert.Equal(t, "ETHUSDT", cfg.Exchange.Symbol)
	assert.Equal(t, "rest", cfg.Oracle.Source)
	assert.Equal(t, 30, cfg.Oracle.FreshnessSec)
	assert.Equal(t, "debug", cfg.LogConfig.Level)
	assert.Equal(t, "s3cret", cfg.API.JWTSecret)

	// defaults fill what the file omits
	assert.Equal(t, "beyond_span", cfg.Engine.NextPricePolicy)
	assert.Equal(t, 1024, cfg.Engine.EventBufferSize)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	t.Setenv("LADDER_JWT_SECRET", "s3cret")
	t.Setenv("LADDER_ENGINE_NEXT_PRICE_POLICY", "step_from_fill")
	path := writeConfig(t, "config.yaml", "bot_id: yaml-bot\nexchange:\n  symbol: BTCUSDC\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "yaml-bot", cfg.BotID)
	assert.Equal(t, "BTCUSDC", cfg.Exchange.Symbol)
	assert.Equal(t, "step_from_fill", cfg.Engine.NextPricePolicy)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("LADDER_JWT_SECRET", "")
	t.Setenv("BINANCE_API_KEY", "")
	path := writeConfig(t, "config.json", `{"exchange": {"mode": "binance"}, "oracle": {"source": "carrier-pigeon"}}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
	assert.Contains(t, err.Error(), "oracle.source")
	assert.Contains(t, err.Error(), "LADDER_JWT_SECRET")
}

func TestLoadConfigRejectsPingSlowerThanPongTimeout(t *testing.T) {
	t.Setenv("LADDER_JWT_SECRET", "s3cret")
	path := writeConfig(t, "config.json", `{
		"bot_id": "eth-ladder",
		"owner": "alice",
		"exchange": {"mode": "paper", "symbol": "ETHUSDT"},
		"oracle": {"source": "websocket", "websocket_ping_interval_sec": 90, "websocket_pong_timeout_sec": 60}
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket_ping_interval_sec")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
