// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for shoebox. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Broadcast transport selectors.
const (
	TransportSpool  = "spool"
	TransportSocket = "socket"
)

// Default values applied before the config file is read.
const (
	defaultServerURL = "https://api.shoebox.example"

	defaultLogLevel      = "info"
	defaultProbeInterval = "30s"
	defaultLeaseTTL      = "2m"
	defaultTimeout       = "30s"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	ServerURL string `toml:"server_url"`
	DataDir   string `toml:"data_dir"`
	LogLevel  string `toml:"log_level"`

	Sync      SyncConfig      `toml:"sync"`
	Broadcast BroadcastConfig `toml:"broadcast"`
	Network   NetworkConfig   `toml:"network"`
}

// SyncConfig controls the sync daemon: how often connectivity is probed,
// how long queue leases last, and whether syncing is paused.
type SyncConfig struct {
	ProbeInterval string `toml:"probe_interval"`
	LeaseTTL      string `toml:"lease_ttl"`
	Paused        bool   `toml:"paused"`
}

// BroadcastConfig selects the cross-process message transport.
type BroadcastConfig struct {
	Transport string `toml:"transport"`
}

// NetworkConfig controls the HTTP client toward the API.
type NetworkConfig struct {
	Timeout   string `toml:"timeout"`
	UserAgent string `toml:"user_agent"`
}

// DefaultConfig returns a Config populated with all default values. Loading
// decodes the config file over this, so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerURL: defaultServerURL,
		DataDir:   DefaultDataDir(),
		LogLevel:  defaultLogLevel,
		Sync: SyncConfig{
			ProbeInterval: defaultProbeInterval,
			LeaseTTL:      defaultLeaseTTL,
		},
		Broadcast: BroadcastConfig{
			Transport: TransportSpool,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
	}
}

// ProbeIntervalDuration returns the parsed probe interval. Validate has
// already established the value parses, so errors fall back to the default.
func (c *Config) ProbeIntervalDuration() time.Duration {
	return parseDurationOr(c.Sync.ProbeInterval, defaultProbeInterval)
}

// LeaseTTLDuration returns the parsed queue lease TTL.
func (c *Config) LeaseTTLDuration() time.Duration {
	return parseDurationOr(c.Sync.LeaseTTL, defaultLeaseTTL)
}

// TimeoutDuration returns the parsed HTTP timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Network.Timeout, defaultTimeout)
}

func parseDurationOr(value, fallback string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}

	return d
}
