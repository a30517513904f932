package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal: silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first-run experience: users can start without creating a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// CLIOverrides holds values from command-line flags, the highest-priority
// layer of the override chain.
type CLIOverrides struct {
	ConfigPath string
	DataDir    string
	ServerURL  string
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns the resolved config and the path it was loaded from (the path
// is reported even when the file does not exist, so callers can tell users
// where to create one).
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}

	if env.ServerURL != "" {
		cfg.ServerURL = env.ServerURL
	}

	if cli.DataDir != "" {
		cfg.DataDir = cli.DataDir
	}

	if cli.ServerURL != "" {
		cfg.ServerURL = cli.ServerURL
	}

	if cfg.DataDir == "" {
		return nil, cfgPath, fmt.Errorf("data directory could not be resolved (set data_dir in %s or %s)", cfgPath, EnvDataDir)
	}

	return cfg, cfgPath, nil
}

// checkUnknownKeys rejects config keys that do not correspond to any known
// option, listing the valid keys so the user can spot the typo.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	unknown := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		unknown = append(unknown, key.String())
	}

	sort.Strings(unknown)

	return fmt.Errorf("unknown config keys: %s (valid keys: %s)",
		strings.Join(unknown, ", "), strings.Join(knownKeyList(), ", "))
}

// knownKeys are the valid keys in the config file, section-qualified.
var knownKeys = map[string]bool{
	"server_url": true, "data_dir": true, "log_level": true,
	"sync.probe_interval": true, "sync.lease_ttl": true, "sync.paused": true,
	"broadcast.transport": true,
	"network.timeout":     true, "network.user_agent": true,
}

// knownKeyList returns the sorted slice form of knownKeys for error
// messages. Derived from knownKeys so it never drifts.
func knownKeyList() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
