package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written on first use.
// All settings are present as commented-out defaults so users can discover
// every option without reading docs. The template is written once and never
// regenerated — user modifications are preserved by subsequent text-level
// edits.
const configTemplate = `# shoebox configuration
# Docs: https://github.com/shoeboxhq/shoebox-go

# API base URL
# server_url = "https://api.shoebox.example"

# State directory (database, token, broadcast spool)
# data_dir = ""

# Log verbosity: debug, info, warn, error
# log_level = "info"

[sync]
# Connectivity probe interval for sync --watch
# probe_interval = "30s"

# How long a crashed process may hold a queue item before others reclaim it
# lease_ttl = "2m"

# Managed by 'shoebox pause' / 'shoebox resume'
# paused = false

[broadcast]
# Cross-instance message transport: "spool" or "socket"
# transport = "spool"

[network]
# HTTP timeout toward the API
# timeout = "30s"
`

// SetKey updates one key in the config file with a text-level edit that
// preserves comments and unrelated lines. section is "" for top-level keys.
// If the file does not exist it is created from the template first. The
// write is atomic (temp file + rename).
func SetKey(path, section, key, value string) error {
	content, err := readOrTemplate(path)
	if err != nil {
		return err
	}

	updated, err := setKeyInText(content, section, key, renderTOMLValue(value))
	if err != nil {
		return err
	}

	return writeAtomic(path, updated)
}

// readOrTemplate returns the current config file content, or the default
// template when no file exists yet.
func readOrTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return configTemplate, nil
	}

	if err != nil {
		return "", fmt.Errorf("reading config file: %w", err)
	}

	return string(data), nil
}

// setKeyInText performs the line-based replacement. Within the target
// section it replaces an existing assignment (or uncomments a commented
// default); otherwise it appends the assignment at the section's end.
func setKeyInText(content, section, key, rendered string) (string, error) {
	lines := strings.Split(content, "\n")
	start, end := sectionRange(lines, section)

	if start == -1 {
		// Section missing entirely: append a new section header plus the key.
		out := strings.TrimRight(content, "\n")

		return out + fmt.Sprintf("\n\n[%s]\n%s = %s\n", section, key, rendered), nil
	}

	assignment := key + " = " + rendered

	for i := start; i < end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if isAssignmentOf(trimmed, key) {
			lines[i] = assignment
			return strings.Join(lines, "\n"), nil
		}
	}

	// Not present: prefer replacing a commented-out default in place.
	for i := start; i < end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if commented, ok := strings.CutPrefix(trimmed, "#"); ok && isAssignmentOf(strings.TrimSpace(commented), key) {
			lines[i] = assignment
			return strings.Join(lines, "\n"), nil
		}
	}

	// Append at the end of the section.
	insert := end
	lines = append(lines[:insert], append([]string{assignment}, lines[insert:]...)...)

	return strings.Join(lines, "\n"), nil
}

// sectionRange returns the half-open line range [start, end) belonging to
// the named section ("" = the top-level area before any section header).
// start is -1 when the section header does not appear.
func sectionRange(lines []string, section string) (int, int) {
	if section == "" {
		end := len(lines)
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "[") {
				end = i
				break
			}
		}

		return 0, end
	}

	header := "[" + section + "]"
	start := -1

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start == -1 {
			if trimmed == header {
				start = i + 1
			}

			continue
		}

		if strings.HasPrefix(trimmed, "[") {
			return start, i
		}
	}

	if start == -1 {
		return -1, -1
	}

	return start, len(lines)
}

// isAssignmentOf reports whether a trimmed line assigns the given key.
func isAssignmentOf(trimmed, key string) bool {
	rest, ok := strings.CutPrefix(trimmed, key)
	if !ok {
		return false
	}

	rest = strings.TrimLeft(rest, " \t")

	return strings.HasPrefix(rest, "=")
}

// renderTOMLValue renders a user-supplied value as a TOML literal: booleans
// and numbers stay bare, everything else is quoted.
func renderTOMLValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}

	return strconv.Quote(value)
}

// writeAtomic writes content via a temp file and rename so a crash cannot
// leave a half-written config.
func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp config file: %w", err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp config file: %w", err)
	}

	if err := tmp.Chmod(configFilePermissions); err != nil {
		tmp.Close()
		return fmt.Errorf("setting config file permissions: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
	}

	return nil
}
