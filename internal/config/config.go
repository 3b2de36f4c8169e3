// Package config handles runtime configuration: defaults, an optional JSON
// file overlay, and command-line flags, in that order of precedence.
package config

import "time"

// Config holds runtime settings for the Quiver client.
//
// The sync timing fields exist mostly for tests; the defaults match the
// production cadence: debounce resource updates briefly (encryption is
// CPU-bound), debounce pushes longer (the network is slow), and do a full
// pull on a fixed interval.
type Config struct {
	ServerEndpointAddr string
	DatabasePath       string

	// SyncEnabled gates the whole sync subsystem; when false the engine is
	// inert.
	SyncEnabled bool

	FullPullInterval time.Duration
	QueueDebounce    time.Duration
	PushDebounce     time.Duration
	StartPullDelay   time.Duration
	StartPushDelay   time.Duration

	LogTailSize int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "https://api.quiver.rest"
	c.DatabasePath = "quiver.db"
	c.SyncEnabled = false
	c.FullPullInterval = 60 * time.Second
	c.QueueDebounce = 1 * time.Second
	c.PushDebounce = 10 * time.Second
	c.StartPullDelay = 2 * time.Second
	c.StartPushDelay = 1 * time.Second
	c.LogTailSize = 512
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
