package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Spool transport tuning.
const (
	spoolSuffix    = ".json"
	spoolTmpPrefix = ".tmp-"

	// Messages older than spoolTTL are garbage; every participant sweeps,
	// so files vanish even after the writer dies.
	spoolTTL        = 60 * time.Second
	janitorInterval = 30 * time.Second

	spoolErrInitBackoff = 1 * time.Second
	spoolErrBackoffMult = 2
	spoolErrMaxBackoff  = 30 * time.Second

	receiveBuffer = 64
)

// SpoolTransport delivers frames by dropping one file per message into a
// shared spool directory and watching it for siblings' files. Files become
// visible atomically via rename, so readers never see partial writes.
type SpoolTransport struct {
	dir      string
	senderID string
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	incoming chan []byte
	seq      atomic.Uint64

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewSpoolTransport creates the spool directory if needed, sweeps expired
// leftovers, and starts watching for new messages. Files present before the
// watch starts are never delivered.
func NewSpoolTransport(dir, senderID string, logger *slog.Logger) (*SpoolTransport, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("broadcast: creating spool dir %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("broadcast: creating spool watcher: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("broadcast: watching spool dir %s: %w", dir, err)
	}

	t := &SpoolTransport{
		dir:      dir,
		senderID: senderID,
		logger:   logger,
		watcher:  watcher,
		incoming: make(chan []byte, receiveBuffer),
		stop:     make(chan struct{}),
	}

	t.sweep()

	t.wg.Add(1)
	go t.watchLoop()

	return t, nil
}

// Send writes the frame to a temp file and renames it into the spool.
func (t *SpoolTransport) Send(ctx context.Context, data []byte) error {
	name := fmt.Sprintf("%d-%s-%d%s",
		time.Now().UnixNano(), t.senderID, t.seq.Add(1), spoolSuffix)

	tmp, err := os.CreateTemp(t.dir, spoolTmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("broadcast: creating spool temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("broadcast: writing spool file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("broadcast: closing spool file: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(t.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("broadcast: publishing spool file: %w", err)
	}

	return nil
}

// Receive yields frames written by other participants.
func (t *SpoolTransport) Receive() <-chan []byte {
	return t.incoming
}

// Close stops the watcher and janitor. Spool files this process wrote are
// left for the janitors of surviving processes.
func (t *SpoolTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		t.closeErr = t.watcher.Close()
		t.wg.Wait()
	})

	return t.closeErr
}

// watchLoop processes fsnotify events, watcher errors with exponential
// backoff, and janitor ticks until the transport closes.
func (t *SpoolTransport) watchLoop() {
	defer t.wg.Done()
	defer close(t.incoming)

	janitor := time.NewTicker(janitorInterval)
	defer janitor.Stop()

	errBackoff := spoolErrInitBackoff

	for {
		select {
		case <-t.stop:
			return

		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}

			t.handleEvent(ev)

			errBackoff = spoolErrInitBackoff

		case watchErr, ok := <-t.watcher.Errors:
			if !ok {
				return
			}

			t.logger.Warn("spool watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-t.stop:
				return
			case <-time.After(errBackoff):
			}

			errBackoff *= spoolErrBackoffMult
			if errBackoff > spoolErrMaxBackoff {
				errBackoff = spoolErrMaxBackoff
			}

		case <-janitor.C:
			t.sweep()
		}
	}
}

// handleEvent reads a newly renamed-in message file and queues it for the
// broadcaster. Files may vanish before the read when another janitor wins.
func (t *SpoolTransport) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) {
		return
	}

	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, spoolSuffix) {
		return
	}

	// Own files are skipped by name; the broadcaster's sender filter is
	// the authoritative check.
	if sender, ok := senderFromName(name); ok && sender == t.senderID {
		return
	}

	data, err := os.ReadFile(ev.Name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			t.logger.Debug("spool read failed",
				slog.String("file", name), slog.String("error", err.Error()))
		}

		return
	}

	select {
	case t.incoming <- data:
	case <-t.stop:
	default:
		t.logger.Warn("spool receive buffer full, dropping message", slog.String("file", name))
	}
}

// sweep removes spool entries older than spoolTTL, including stale temp
// files from writers that died mid-publish.
func (t *SpoolTransport) sweep() {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.logger.Warn("spool sweep failed", slog.String("error", err.Error()))
		return
	}

	cutoff := time.Now().Add(-spoolTTL)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Vanished mid-sweep; another janitor won.
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(t.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.logger.Debug("spool remove failed",
				slog.String("file", entry.Name()), slog.String("error", err.Error()))

			continue
		}

		removed++
	}

	if removed > 0 {
		t.logger.Debug("spool janitor removed expired messages", slog.Int("count", removed))
	}
}

// senderFromName extracts the sender ID from a spool file name of the form
// <unixnano>-<sender>-<seq>.json. The sender itself contains dashes, so only
// the first and last separators delimit it.
func senderFromName(name string) (string, bool) {
	base := strings.TrimSuffix(name, spoolSuffix)

	first := strings.Index(base, "-")
	last := strings.LastIndex(base, "-")

	if first < 0 || last <= first {
		return "", false
	}

	return base[first+1 : last], true
}
