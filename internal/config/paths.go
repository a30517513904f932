package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "shoebox"

// Config file name.
const configFileName = "config.toml"

// Well-known file names inside the data directory.
const (
	dbFileName     = "shoebox.db"
	tokenFileName  = "token.json"
	pidFileName    = "shoebox.pid"
	statusFileName = "daemon-status.json"
	spoolDirName   = "broadcast"
	hubFileName    = "broadcast-hub.json"
	documentsDir   = "documents"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/shoebox).
// On macOS, uses ~/Library/Application Support/shoebox per Apple guidelines.
// Other platforms fall back to ~/.config/shoebox.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultConfigPath returns the full path to the config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultDataDir returns the platform-specific directory for application
// data (state database, token, broadcast spool, PID file).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/shoebox).
// On macOS, uses ~/Library/Application Support/shoebox (macOS convention
// collapses config and data into one directory).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DatabasePath returns the SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, dbFileName)
}

// TokenPath returns the bearer token file path under the data directory.
func (c *Config) TokenPath() string {
	return filepath.Join(c.DataDir, tokenFileName)
}

// PIDFilePath returns the watch-daemon PID file path.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.DataDir, pidFileName)
}

// StatusFilePath returns the daemon status snapshot path.
func (c *Config) StatusFilePath() string {
	return filepath.Join(c.DataDir, statusFileName)
}

// SpoolDir returns the broadcast spool directory path.
func (c *Config) SpoolDir() string {
	return filepath.Join(c.DataDir, spoolDirName)
}

// HubFilePath returns the broadcast hub descriptor path used by the socket
// transport.
func (c *Config) HubFilePath() string {
	return filepath.Join(c.DataDir, hubFileName)
}

// DocumentsDir returns the directory holding staged document content
// awaiting upload.
func (c *Config) DocumentsDir() string {
	return filepath.Join(c.DataDir, documentsDir)
}
