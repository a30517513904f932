package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minProbeInterval = 5 * time.Second
	minLeaseTTL      = 30 * time.Second
	minTimeout       = 1 * time.Second
)

// validLogLevels enumerates accepted log_level values.
var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// validTransports enumerates accepted broadcast.transport values.
var validTransports = map[string]bool{
	TransportSpool:  true,
	TransportSocket: true,
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.ServerURL != "" {
		u, err := url.Parse(cfg.ServerURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server_url %q is not an absolute URL", cfg.ServerURL))
		}
	}

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q invalid (valid: debug, info, warn, error)", cfg.LogLevel))
	}

	errs = append(errs, validateDurationField("sync.probe_interval", cfg.Sync.ProbeInterval, minProbeInterval)...)
	errs = append(errs, validateDurationField("sync.lease_ttl", cfg.Sync.LeaseTTL, minLeaseTTL)...)
	errs = append(errs, validateDurationField("network.timeout", cfg.Network.Timeout, minTimeout)...)

	if !validTransports[cfg.Broadcast.Transport] {
		errs = append(errs, fmt.Errorf("broadcast.transport %q invalid (valid: spool, socket)", cfg.Broadcast.Transport))
	}

	return errors.Join(errs...)
}

// validateDurationField parses a duration string and enforces a floor.
// Floors keep misconfigured intervals from hammering the API or churning
// queue leases.
func validateDurationField(key, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s %q is not a duration (examples: 30s, 2m)", key, value)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s %s is below the minimum %s", key, d, minimum)}
	}

	return nil
}
