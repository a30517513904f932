package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/store"
	"github.com/shoeboxhq/shoebox-go/internal/tokenfile"
)

// statusStaleAfter is how old a daemon snapshot may be before status
// reports it stale. Snapshots refresh every statusInterval; three missed
// refreshes means the daemon is wedged or gone.
const statusStaleAfter = 3 * statusInterval

// daemonStatus is the snapshot the watch daemon writes for `shoebox
// status` to read.
type daemonStatus struct {
	PID           int                `json:"pid"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Authenticated bool               `json:"authenticated"`
	Online        bool               `json:"online"`
	Syncing       bool               `json:"syncing"`
	Paused        bool               `json:"paused"`
	Attempts      int                `json:"attempts"`
	RetryAt       *time.Time         `json:"retry_at,omitempty"`
	Queue         store.QueueCounts  `json:"queue"`
	Entities      store.EntityCounts `json:"entities"`
}

// writeStatusFile writes the snapshot atomically (temp + rename) so readers
// never see a torn JSON document.
func writeStatusFile(path string, status *daemonStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encoding status snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating status temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing status snapshot: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing status snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing status snapshot: %w", err)
	}

	return nil
}

// readStatusFile loads the daemon snapshot. Returns (nil, nil) when no
// daemon has written one.
func readStatusFile(path string) (*daemonStatus, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "no daemon snapshot"
	}

	if err != nil {
		return nil, fmt.Errorf("reading status snapshot: %w", err)
	}

	var status daemonStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decoding status snapshot %s: %w", path, err)
	}

	return &status, nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session, connectivity, queue, and daemon state",
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Server        string             `json:"server"`
	Authenticated bool               `json:"authenticated"`
	Email         string             `json:"email,omitempty"`
	Online        bool               `json:"online"`
	Queue         store.QueueCounts  `json:"queue"`
	Entities      store.EntityCounts `json:"entities"`
	Daemon        *daemonStatus      `json:"daemon,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)
	ctx := cmd.Context()

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	out := statusOutput{
		Server:        cc.Cfg.ServerURL,
		Authenticated: cc.tokenSource().Authenticated(),
		Queue:         queueCountsFor(ctx, st),
	}

	if meta, metaErr := tokenfile.ReadMeta(cc.Cfg.TokenPath()); metaErr == nil && meta != nil {
		out.Email = meta[tokenfile.MetaEmail]
	}

	if counts, countErr := st.EntityCounts(ctx); countErr == nil {
		out.Entities = counts
	}

	probeCtx, cancel := context.WithTimeout(ctx, opportunisticProbeTimeout)
	out.Online = cc.apiClient().Health(probeCtx) == nil
	cancel()

	out.Daemon = liveDaemonStatus(cc)

	if cc.Flags.JSON {
		return printJSON(out)
	}

	printStatusText(&out)

	return nil
}

// liveDaemonStatus returns the daemon snapshot if a daemon process is alive
// and its snapshot is fresh, nil otherwise.
func liveDaemonStatus(cc *CLIContext) *daemonStatus {
	if _, _, err := daemonProcess(cc.Cfg.PIDFilePath()); err != nil {
		return nil
	}

	status, err := readStatusFile(cc.Cfg.StatusFilePath())
	if err != nil || status == nil {
		return nil
	}

	if time.Since(status.UpdatedAt) > statusStaleAfter {
		return nil
	}

	return status
}

func printStatusText(out *statusOutput) {
	fmt.Printf("Server:    %s\n", out.Server)

	switch {
	case out.Authenticated && out.Email != "":
		fmt.Printf("Session:   logged in as %s\n", out.Email)
	case out.Authenticated:
		fmt.Println("Session:   logged in")
	default:
		fmt.Println("Session:   not logged in")
	}

	if out.Online {
		fmt.Println("Network:   online")
	} else {
		fmt.Println("Network:   offline")
	}

	fmt.Printf("Queue:     %d pending, %d inflight, %d failed\n",
		out.Queue.Pending, out.Queue.Inflight, out.Queue.Failed)
	fmt.Printf("Entities:  %d receipts, %d devices, %d documents\n",
		out.Entities.Receipts, out.Entities.Devices, out.Entities.Documents)

	switch {
	case out.Daemon == nil:
		fmt.Println("Daemon:    not running")
	case out.Daemon.Paused:
		fmt.Printf("Daemon:    running (pid %d), paused\n", out.Daemon.PID)
	case out.Daemon.Syncing:
		fmt.Printf("Daemon:    running (pid %d), syncing\n", out.Daemon.PID)
	case out.Daemon.RetryAt != nil:
		fmt.Printf("Daemon:    running (pid %d), retry in %s\n",
			out.Daemon.PID, time.Until(*out.Daemon.RetryAt).Round(time.Second))
	default:
		fmt.Printf("Daemon:    running (pid %d)\n", out.Daemon.PID)
	}
}
