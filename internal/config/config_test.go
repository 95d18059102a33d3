package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Upstream.BaseURL = "https://opensky-network.org/api"
	return cfg
}

func TestValidateAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 15, cfg.Upstream.TimeoutSecs)
	assert.Equal(t, 3, cfg.Upstream.MaxRetries)
	assert.Equal(t, 1000, cfg.Upstream.BackoffBaseMs)
	assert.Equal(t, 10.0, cfg.Tiles.MaxExtentDeg)
	assert.Equal(t, 30, cfg.Tiles.CacheTTLSecs)
	assert.Equal(t, 1200, cfg.Tiles.RequestSpacingMs)
	assert.Equal(t, 15, cfg.Tracker.UpdateIntervalSecs)
	assert.Equal(t, 100, cfg.Tracker.FrameIntervalMs)
	assert.Equal(t, 30, cfg.Tracker.SoftStaleSecs)
	assert.Equal(t, 120, cfg.Tracker.HardStaleSecs)
	assert.Equal(t, 2.0, cfg.Tracker.MinSpeedKts)
	assert.Equal(t, 0.3, cfg.Tracker.MinOpacity)
	assert.Equal(t, 500, cfg.Viewport.ThrottleMs)
	assert.Equal(t, 80.0, cfg.Viewport.MaxExtentDeg)
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"duplicate additional port", func(c *Config) { c.Server.AdditionalPorts = []int{8080} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"missing upstream url", func(c *Config) { c.Upstream.BaseURL = "" }},
		{"negative retries", func(c *Config) { c.Upstream.MaxRetries = -1 }},
		{"negative spacing", func(c *Config) { c.Tiles.RequestSpacingMs = -5 }},
		{"hard stale not past soft", func(c *Config) {
			c.Tracker.SoftStaleSecs = 60
			c.Tracker.HardStaleSecs = 60
		}},
		{"negative min speed", func(c *Config) { c.Tracker.MinSpeedKts = -1 }},
		{"viewport cap below tile cap", func(c *Config) {
			c.Tiles.MaxExtentDeg = 10
			c.Viewport.MaxExtentDeg = 5
		}},
		{"persist cache without sqlite path", func(c *Config) { c.Tiles.PersistCache = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Tracker.UpdateIntervalSecs = 10
	cfg.Tiles.CacheTTLSecs = 60
	cfg.Viewport.ThrottleMs = 250

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Tracker.UpdateIntervalSecs)
	assert.Equal(t, 60, cfg.Tiles.CacheTTLSecs)
	assert.Equal(t, 250, cfg.Viewport.ThrottleMs)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	content := `
[server]
port = 9000
host = "127.0.0.1"

[logging]
level = "debug"
format = "json"

[upstream]
base_url = "https://opensky-network.org/api"
max_retries = 5

[tiles]
max_extent_deg = 10.0
cache_ttl_seconds = 45

[tracker]
update_interval_seconds = 15

[viewport]
throttle_ms = 500
max_extent_deg = 80.0

[fallback]
enabled = true
entity_count = 12
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5, cfg.Upstream.MaxRetries)
	assert.Equal(t, 45, cfg.Tiles.CacheTTLSecs)
	assert.True(t, cfg.Fallback.Enabled)
	assert.Equal(t, 12, cfg.Fallback.EntityCount)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadWithFallbackPrefersExplicitPath(t *testing.T) {
	t.Parallel()

	content := "[server]\nport = 8081\n\n[upstream]\nbase_url = \"https://example.com\"\n"
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadWithFallback(path)
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
}
