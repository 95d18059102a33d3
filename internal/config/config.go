package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Upstream UpstreamConfig `toml:"upstream"` // Upstream state provider settings
	Tiles    TilesConfig    `toml:"tiles"`    // Tile splitting and caching settings
	Tracker  TrackerConfig  `toml:"tracker"`  // Snapshot ingest and interpolation settings
	Viewport ViewportConfig `toml:"viewport"` // Viewport change handling settings
	Fallback FallbackConfig `toml:"fallback"` // Degraded-mode synthetic data settings
	Storage  StorageConfig  `toml:"storage"`  // Data persistence settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // Primary HTTP port for the server
	Host             string `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for streaming)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	AdditionalPorts  []int  `toml:"additional_ports"`      // Additional HTTP ports to listen on (useful for multiple interfaces)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// UpstreamConfig contains configuration for the upstream state provider.
// The provider serves bounded-region state queries, requires a bearer
// credential, and enforces both a per-query area cap and a per-minute
// request quota.
type UpstreamConfig struct {
	BaseURL         string `toml:"base_url"`             // Base URL for the state query endpoint
	TokenURL        string `toml:"token_url"`            // OAuth2 client-credentials token endpoint
	CredentialsPath string `toml:"credentials_path"`     // Path to credentials JSON (access_token, or client_id + client_secret)
	TimeoutSecs     int    `toml:"timeout_seconds"`      // Per-request HTTP timeout in seconds
	MaxRetries      int    `toml:"max_retries"`          // Maximum retry attempts for transient (5xx/timeout) failures
	BackoffBaseMs   int    `toml:"backoff_base_ms"`      // Initial retry backoff in milliseconds (doubles per attempt)
	TokenBufferSecs int    `toml:"token_buffer_seconds"` // Safety margin subtracted from the provider's token expiry
}

// TilesConfig contains tile splitting and caching configuration
type TilesConfig struct {
	MaxExtentDeg     float64 `toml:"max_extent_deg"`      // Provider per-query area cap: maximum extent per axis in degrees
	CacheTTLSecs     int     `toml:"cache_ttl_seconds"`   // Validity window of a cached tile result
	RequestSpacingMs int     `toml:"request_spacing_ms"`  // Minimum delay between sequential tile requests
	PersistCache     bool    `toml:"persist_cache"`       // Mirror the tile cache into SQLite so restarts do not burn quota
	PruneIntervalMin int     `toml:"prune_interval_mins"` // How often expired persisted tiles are pruned
}

// TrackerConfig contains snapshot ingest and interpolation configuration
type TrackerConfig struct {
	UpdateIntervalSecs int     `toml:"update_interval_seconds"` // Expected upstream snapshot cadence; interpolation window length
	FrameIntervalMs    int     `toml:"frame_interval_ms"`       // Render frame cadence for the animation engine
	SoftStaleSecs      int     `toml:"soft_stale_seconds"`      // Age past which a track starts fading (soft threshold)
	HardStaleSecs      int     `toml:"hard_stale_seconds"`      // Age past which a track is evicted (hard threshold)
	MinSpeedKts        float64 `toml:"min_speed_kts"`           // Ground speed below which position is frozen to avoid jitter
	MinOpacity         float64 `toml:"min_opacity"`             // Opacity floor for stale tracks
}

// ViewportConfig contains viewport change handling configuration
type ViewportConfig struct {
	ThrottleMs   int     `toml:"throttle_ms"`    // Minimum interval between accepted viewport changes; extras are dropped
	MaxExtentDeg float64 `toml:"max_extent_deg"` // Maximum viewport extent per axis before the query is rejected outright
}

// FallbackConfig contains degraded-mode synthetic data configuration.
// When enabled, exhausted upstream retries produce a clearly-flagged
// synthetic snapshot set instead of an error. Off by default: fabricating
// data in production should be a deliberate decision.
type FallbackConfig struct {
	Enabled     bool `toml:"enabled"`      // Substitute synthetic data when the upstream is unavailable
	EntityCount int  `toml:"entity_count"` // Number of synthetic entities to generate per region
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLiteBasePath string `toml:"sqlite_base_path"` // Base path for the SQLite tile cache database
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	portsSeen := make(map[int]bool)
	portsSeen[c.Server.Port] = true
	for _, p := range c.Server.AdditionalPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid additional server port: %d", p)
		}
		if portsSeen[p] {
			return fmt.Errorf("duplicate port configured: %d (primary or additional)", p)
		}
		portsSeen[p] = true
	}

	// Validate logging config
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	switch c.Logging.Format {
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if err := c.validateUpstream(); err != nil {
		return err
	}
	if err := c.validateTiles(); err != nil {
		return err
	}
	if err := c.validateTracker(); err != nil {
		return err
	}
	if err := c.validateViewport(); err != nil {
		return err
	}

	if c.Fallback.Enabled && c.Fallback.EntityCount <= 0 {
		c.Fallback.EntityCount = 8
	}

	if c.Tiles.PersistCache && c.Storage.SQLiteBasePath == "" {
		return fmt.Errorf("sqlite_base_path is required when tiles.persist_cache is enabled")
	}

	return nil
}

func (c *Config) validateUpstream() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base_url is required")
	}
	if c.Upstream.TimeoutSecs <= 0 {
		c.Upstream.TimeoutSecs = 15
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream max_retries must be 0 or greater: %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.MaxRetries == 0 {
		c.Upstream.MaxRetries = 3
	}
	if c.Upstream.BackoffBaseMs <= 0 {
		c.Upstream.BackoffBaseMs = 1000
	}
	if c.Upstream.TokenBufferSecs <= 0 {
		c.Upstream.TokenBufferSecs = 30
	}
	return nil
}

func (c *Config) validateTiles() error {
	if c.Tiles.MaxExtentDeg <= 0 {
		c.Tiles.MaxExtentDeg = 10.0
	}
	if c.Tiles.CacheTTLSecs <= 0 {
		c.Tiles.CacheTTLSecs = 30
	}
	if c.Tiles.RequestSpacingMs < 0 {
		return fmt.Errorf("tiles request_spacing_ms must be 0 or greater: %d", c.Tiles.RequestSpacingMs)
	}
	if c.Tiles.RequestSpacingMs == 0 {
		c.Tiles.RequestSpacingMs = 1200
	}
	if c.Tiles.PruneIntervalMin <= 0 {
		c.Tiles.PruneIntervalMin = 10
	}
	return nil
}

func (c *Config) validateTracker() error {
	if c.Tracker.UpdateIntervalSecs <= 0 {
		c.Tracker.UpdateIntervalSecs = 15
	}
	if c.Tracker.FrameIntervalMs <= 0 {
		c.Tracker.FrameIntervalMs = 100
	}
	if c.Tracker.SoftStaleSecs <= 0 {
		c.Tracker.SoftStaleSecs = 30
	}
	if c.Tracker.HardStaleSecs <= 0 {
		c.Tracker.HardStaleSecs = 120
	}
	if c.Tracker.HardStaleSecs <= c.Tracker.SoftStaleSecs {
		return fmt.Errorf("tracker hard_stale_seconds (%d) must be greater than soft_stale_seconds (%d)",
			c.Tracker.HardStaleSecs, c.Tracker.SoftStaleSecs)
	}
	if c.Tracker.MinSpeedKts < 0 {
		return fmt.Errorf("tracker min_speed_kts must be 0 or greater: %f", c.Tracker.MinSpeedKts)
	}
	if c.Tracker.MinSpeedKts == 0 {
		c.Tracker.MinSpeedKts = 2.0
	}
	if c.Tracker.MinOpacity <= 0 || c.Tracker.MinOpacity > 1 {
		c.Tracker.MinOpacity = 0.3
	}
	return nil
}

func (c *Config) validateViewport() error {
	if c.Viewport.ThrottleMs <= 0 {
		c.Viewport.ThrottleMs = 500
	}
	if c.Viewport.MaxExtentDeg <= 0 {
		c.Viewport.MaxExtentDeg = 80.0
	}
	if c.Viewport.MaxExtentDeg < c.Tiles.MaxExtentDeg {
		return fmt.Errorf("viewport max_extent_deg (%f) must not be smaller than tiles max_extent_deg (%f)",
			c.Viewport.MaxExtentDeg, c.Tiles.MaxExtentDeg)
	}
	return nil
}
