package main

import (
	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume background syncing",
		Long: `Clear the pause switch. A running daemon picks the change up immediately
and drains whatever queued while paused.`,
		RunE: runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd)

	if err := setPaused(cc, false); err != nil {
		return err
	}

	cc.Statusf("Sync resumed.\n")

	return nil
}
