package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidLock pins the daemon's identity on disk. The flock, not the file
// content, is the mutual exclusion: a stale file from a crashed daemon holds
// no lock and blocks nothing. The recorded PID is how sibling commands find
// the daemon to signal or inspect.
type pidLock struct {
	path string
	file *os.File
}

// acquirePIDLock takes the daemon lock and records the current PID. Fails
// fast when another daemon already holds the lock.
func acquirePIDLock(path string) (*pidLock, error) {
	if path == "" {
		return nil, fmt.Errorf("PID file path is empty — data directory not resolved")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another 'shoebox sync --watch' is already running (could not lock %s)", path)
	}

	if err := recordPID(f); err != nil {
		f.Close()
		os.Remove(path)

		return nil, fmt.Errorf("recording daemon PID: %w", err)
	}

	return &pidLock{path: path, file: f}, nil
}

// recordPID overwrites the lock file with the current PID and flushes it so
// `shoebox status` in another process sees the PID immediately.
func recordPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return err
	}

	return f.Sync()
}

// Release removes the PID file and drops the lock.
func (l *pidLock) Release() {
	os.Remove(l.path)
	l.file.Close()
}

// daemonProcess resolves the PID file to a live daemon process. A recorded
// PID with no process behind it means the daemon crashed without cleanup;
// the stale file is removed on the way out.
func daemonProcess(path string) (*os.Process, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("no running daemon found (no PID file at %s)", path)
		}

		return nil, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	proc, err := os.FindProcess(pid)
	if err == nil {
		// Signal 0 probes liveness without delivering anything.
		err = proc.Signal(syscall.Signal(0))
	}

	if err != nil {
		os.Remove(path)

		return nil, 0, fmt.Errorf("daemon (PID %d) is not running (stale PID file removed)", pid)
	}

	return proc, pid, nil
}

// sendSIGHUP tells the running daemon to reload settings and drain.
func sendSIGHUP(pidPath string) error {
	proc, pid, err := daemonProcess(pidPath)
	if err != nil {
		return err
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("sending SIGHUP to daemon (PID %d): %w", pid, err)
	}

	return nil
}
