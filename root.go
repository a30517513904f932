package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shoeboxhq/shoebox-go/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that run without resolved config
// (version, completion). Everything else gets a CLIContext before RunE.
const skipConfigAnnotation = "shoebox.skipConfig"

// GlobalFlags are the persistent flags, bound in newRootCmd.
type GlobalFlags struct {
	ConfigPath string
	DataDir    string
	ServerURL  string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries the resolved configuration and logger through the
// command context. Built once in PersistentPreRunE; subcommands fetch it
// with mustCLIContext.
type CLIContext struct {
	Cfg     *config.Config
	CfgPath string
	Flags   GlobalFlags
	Logger  *slog.Logger
}

type cliContextKeyType struct{}

var cliContextKey cliContextKeyType

// mustCLIContext returns the CLIContext installed by the root pre-run. A
// missing context is a wiring bug (a command bypassed PersistentPreRunE),
// not a user error.
func mustCLIContext(cmd *cobra.Command) *CLIContext {
	cc, ok := cmd.Context().Value(cliContextKey).(*CLIContext)
	if !ok {
		panic("command executed without CLI context")
	}

	return cc
}

// newRootCmd builds the fully-assembled root command with all subcommands
// registered. Called once from main.
func newRootCmd() *cobra.Command {
	flags := &GlobalFlags{}

	cmd := &cobra.Command{
		Use:     "shoebox",
		Short:   "Offline-first receipts and warranty tracker",
		Long: `Track purchase receipts, registered devices with their warranty windows,
and attached documents. Everything is stored locally first; changes queue up
while offline and drain to the server when connectivity returns.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			cc, err := buildCLIContext(*flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.DataDir, "data-dir", "", "data directory override")
	pf.StringVar(&flags.ServerURL, "server", "", "API base URL override")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// buildCLIContext resolves configuration through the override chain
// (defaults -> file -> environment -> flags) and builds the logger.
func buildCLIContext(flags GlobalFlags) (*CLIContext, error) {
	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		DataDir:    flags.DataDir,
		ServerURL:  flags.ServerURL,
	}

	cfg, cfgPath, err := config.Resolve(env, cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &CLIContext{
		Cfg:     cfg,
		CfgPath: cfgPath,
		Flags:   flags,
		Logger:  buildLogger(cfg, flags),
	}, nil
}

// buildLogger creates an slog.Logger configured by config log_level, with
// --verbose and --quiet overriding it because CLI flags always win.
func buildLogger(cfg *config.Config, flags GlobalFlags) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
