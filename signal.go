package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT or
// SIGTERM, giving in-flight queue items time to finish and leases time to
// release. Once the shutdown starts, signal delivery reverts to the default
// disposition, so a second signal kills the process outright if teardown
// hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)

	context.AfterFunc(ctx, func() {
		stop()

		if parent.Err() == nil {
			logger.Info("shutting down, send the signal again to force exit")
		}
	})

	return ctx
}
