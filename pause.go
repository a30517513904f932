package main

import (
	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/config"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause background syncing",
		Long: `Stop the sync daemon from draining until 'shoebox resume'. Local changes
keep queueing; nothing is lost while paused.`,
		RunE: runPause,
	}
}

func runPause(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	if err := setPaused(cc, true); err != nil {
		return err
	}

	cc.Statusf("Sync paused. Run 'shoebox resume' to continue.\n")

	return nil
}

// setPaused flips the pause switch in the config file, then tells any
// running daemon two ways: a settings-changed broadcast for daemons on the
// same transport, and SIGHUP through the pidfile as the fallback that also
// forces an immediate drain on resume.
func setPaused(cc *CLIContext, paused bool) error {
	value := "false"
	if paused {
		value = "true"
	}

	if err := config.SetKey(cc.CfgPath, "sync", "paused", value); err != nil {
		return err
	}

	publishBestEffort(cc, broadcast.Message{Type: broadcast.TypeSettingsChanged})

	if err := sendSIGHUP(cc.Cfg.PIDFilePath()); err != nil {
		cc.Logger.Debug("no daemon notified", "error", err.Error())
	}

	return nil
}
