package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Protocol.WindowSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Protocol.TimerInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Zero(t, cfg.Emulator.LossRate)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("GBN_WINDOW_SIZE", "16")
	t.Setenv("GBN_TIMER_INTERVAL", "250ms")
	t.Setenv("GBN_LOSS_RATE", "0.25")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 16, cfg.Protocol.WindowSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Protocol.TimerInterval)
	assert.Equal(t, 0.25, cfg.Emulator.LossRate)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadOptionOverridesBeatEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("GBN_WINDOW_SIZE", "16")

	cfg, err := LoadWithOverrides(LoadOptions{
		Port:          "7070",
		WindowSize:    32,
		TimerInterval: time.Second,
		LogLevel:      "warn",
	})
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 32, cfg.Protocol.WindowSize)
	assert.Equal(t, time.Second, cfg.Protocol.TimerInterval)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gbn.yaml")
	content := `
server:
  port: "9999"
protocol:
  windowSize: 12
  timerInterval: 750ms
emulator:
  lossRate: 0.1
  corruptRate: 0.05
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithOverrides(LoadOptions{ConfigFile: path})
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 12, cfg.Protocol.WindowSize)
	assert.Equal(t, 750*time.Millisecond, cfg.Protocol.TimerInterval)
	assert.Equal(t, 0.1, cfg.Emulator.LossRate)
	assert.Equal(t, 0.05, cfg.Emulator.CorruptRate)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestEnvBeatsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gbn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9999\"\n"), 0o600))
	t.Setenv("SERVER_PORT", "6000")

	cfg, err := LoadWithOverrides(LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, "6000", cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadWithOverrides(LoadOptions{ConfigFile: "/does/not/exist.yaml"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"non-numeric port", func(c *Config) { c.Server.Port = "abc" }},
		{"port out of range", func(c *Config) { c.Server.Port = "70000" }},
		{"zero window", func(c *Config) { c.Protocol.WindowSize = 0 }},
		{"negative interval", func(c *Config) { c.Protocol.TimerInterval = -time.Second }},
		{"zero max payload", func(c *Config) { c.Protocol.MaxPayload = 0 }},
		{"loss rate above one", func(c *Config) { c.Emulator.LossRate = 1.5 }},
		{"negative corrupt rate", func(c *Config) { c.Emulator.CorruptRate = -0.1 }},
		{"negative delay", func(c *Config) { c.Emulator.Delay = -time.Second }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, defaults().Validate())
}
