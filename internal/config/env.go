package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "SHOEBOX_CONFIG"
	EnvDataDir   = "SHOEBOX_DATA_DIR"
	EnvServerURL = "SHOEBOX_SERVER"
	EnvToken     = "SHOEBOX_TOKEN"
)

// EnvOverrides holds values derived from environment variables.
// These are resolved by Resolve and applied between the config file and
// CLI flags in the override chain.
type EnvOverrides struct {
	ConfigPath string // SHOEBOX_CONFIG: override config file path
	DataDir    string // SHOEBOX_DATA_DIR: override data directory
	ServerURL  string // SHOEBOX_SERVER: override API base URL
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the relevant
// fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
		ServerURL:  os.Getenv(EnvServerURL),
	}
}
