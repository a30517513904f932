package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/store"
	syncpkg "github.com/shoeboxhq/shoebox-go/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain queued changes to the server",
		Long: `Run one drain pass: apply queued local mutations against the server in
order, retrying transient failures on later passes. With --watch, run the
sync daemon: stay resident, watch connectivity, and drain automatically on
reconnect, wake, and a backoff timer after failures.`,
		RunE: runSync,
	}

	cmd.Flags().Bool("watch", false, "run as a resident sync daemon")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	watch, _ := cmd.Flags().GetBool("watch")
	if watch {
		return runWatch(cmd.Context(), cc)
	}

	return runSyncOnce(cmd.Context(), cc)
}

// syncReport is the JSON schema for `sync --json`.
type syncReport struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Removed   int `json:"removed"`
}

func runSyncOnce(ctx context.Context, cc *CLIContext) error {
	session := cc.tokenSource()
	if !session.Authenticated() {
		return fmt.Errorf("not logged in — run 'shoebox login' first")
	}

	st, err := cc.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	client := cc.apiClient()

	probeCtx, cancel := context.WithTimeout(ctx, opportunisticProbeTimeout)
	online := client.Health(probeCtx) == nil
	cancel()

	if !online {
		return fmt.Errorf("server unreachable — queued changes are safe and will drain later")
	}

	broadcaster, err := cc.newBroadcaster()
	if err != nil {
		return err
	}
	defer broadcaster.Close()

	engine := syncpkg.NewEngine(&syncpkg.EngineConfig{
		Queue:    st,
		Remote:   &apiRemote{client: client, store: st, logger: cc.Logger},
		Session:  session,
		Monitor:  staticMonitor{online: true},
		Notifier: broadcaster,
		Owner:    broadcaster.SenderID(),
		LeaseTTL: cc.Cfg.LeaseTTLDuration(),
		Logger:   cc.Logger,
	})

	report, err := engine.Drain(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(syncReport{
			Succeeded: report.Succeeded,
			Failed:    report.Failed,
			Removed:   report.Removed,
		})
	}

	cc.Statusf("Sync complete: %d succeeded, %d failed, %d removed from queue.\n",
		report.Succeeded, report.Failed, report.Removed)

	if report.Failed > 0 {
		counts, countErr := st.QueueCounts(ctx)
		if countErr == nil && counts.Failed > 0 {
			cc.Statusf("%d change(s) were rejected by the server — see 'shoebox queue ls'.\n", counts.Failed)
		}
	}

	return nil
}

// queueCountsFor loads queue counts, mapping errors to a zero value so
// status surfaces degrade instead of failing.
func queueCountsFor(ctx context.Context, st *store.Store) store.QueueCounts {
	counts, err := st.QueueCounts(ctx)
	if err != nil {
		return store.QueueCounts{}
	}

	return counts
}
