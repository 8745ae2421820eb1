package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/syncd-project/syncd/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagSource     string
	flagDest       string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// CLIContext bundles resolved config and logger, built once in
// PersistentPreRunE and threaded through subcommands via the command
// context. Grounded on the teacher's root.go CLIContext/cliContextKey
// pattern.
type CLIContext struct {
	Cfg    *config.Resolved
	Logger *slog.Logger
	JSON   bool
	Quiet  bool
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure PersistentPreRunE ran")
	}

	return cc
}

// newRootCmd builds the fully-assembled root command with every subcommand
// registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "syncd",
		Short:   "High-throughput directory synchronizer",
		Long:    "syncd scans, plans, and executes one-way or bidirectional directory synchronization with resumable, checkpointed transfers.",
		Version: version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagSource, "source", "", "source directory")
	cmd.PersistentFlags().StringVar(&flagDest, "dest", "", "destination directory")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit NDJSON events instead of text output")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newBisyncCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the layered
// file/env/flag chain and stores it in the command's context.
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger("")

	cfg, err := config.LoadOrDefault(flagConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cli := config.CLIOverrides{
		Source: flagSource,
		Dest:   flagDest,
	}

	resolved, err := config.Resolve(cfg, config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}

	finalLogger := buildLogger(resolved.Logging.Level)
	cc := &CLIContext{Cfg: resolved, Logger: finalLogger, JSON: flagJSON, Quiet: flagQuiet}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger from a config-file level plus CLI
// flags, which always win. Grounded on the teacher's root.go buildLogger.
func buildLogger(configLevel string) *slog.Logger {
	level := slog.LevelWarn

	switch configLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelInfo
	}
	if flagDebug {
		level = slog.LevelDebug
	}
	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
