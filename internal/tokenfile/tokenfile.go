// Package tokenfile handles reading and writing the session token file.
// The file stores the API bearer token alongside cached account metadata
// (email, display name) from the last login. This is a leaf package
// imported by both the API client and the CLI so neither depends on the
// other for session state.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// Meta keys cached from the account endpoint at login.
const (
	MetaEmail       = "email"
	MetaDisplayName = "display_name"
)

// File is the on-disk format for the token file. The token is a plain
// bearer token wrapped in the standard oauth2 type so expiry-carrying
// tokens work unchanged if the API grows a refresh flow.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads the saved token file. Returns (nil, nil) if the file does not
// exist — absence means logged out, not an error. A present file without a
// token is corrupt and requires re-login.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not logged in"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil || tf.Token.AccessToken == "" {
		return nil, fmt.Errorf("tokenfile: %s has no access token (re-login required)", path)
	}

	return &tf, nil
}

// ReadMeta reads just the cached metadata without exposing the token.
// Returns (nil, nil) if the file does not exist.
func ReadMeta(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not logged in"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var parsed struct {
		Meta map[string]string `json:"meta"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	return parsed.Meta, nil
}

// Exists reports whether a token file is present without reading it.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Save writes the token file atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func Save(path string, tf *File) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close
	// and rename cannot leave an empty or partial token file at the final
	// path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Clear removes the token file. Missing file is not an error — logout is
// idempotent.
func Clear(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}

// Source adapts a token file path into an oauth2.TokenSource that rereads
// the file on every call. Rereading keeps long-running daemons current when
// another process replaces the token.
type Source struct {
	Path string
}

// Token implements oauth2.TokenSource.
func (s *Source) Token() (*oauth2.Token, error) {
	tf, err := Load(s.Path)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, fmt.Errorf("tokenfile: not logged in (no token at %s)", s.Path)
	}

	return tf.Token, nil
}

// Authenticated reports whether a usable token is on disk. Corrupt files
// count as unauthenticated; login rewrites them.
func (s *Source) Authenticated() bool {
	tf, err := Load(s.Path)
	return err == nil && tf != nil
}

var _ oauth2.TokenSource = (*Source)(nil)
