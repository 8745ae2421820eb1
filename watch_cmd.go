package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncd-project/syncd/internal/config"
	syncpkg "github.com/syncd-project/syncd/internal/sync"
)

func newWatchCmd() *cobra.Command {
	var (
		flagMirror             bool
		flagDebounce           time.Duration
		flagConcurrency        int
		flagMaxDeletionPercent float64
	)

	cmd := &cobra.Command{
		Use:   "watch [source] [dest]",
		Short: "Continuously sync source to destination as files change",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			source, dest := flagSource, flagDest
			if len(args) > 0 {
				source = args[0]
			}
			if len(args) > 1 {
				dest = args[1]
			}

			cli := config.CLIOverrides{
				Source:             source,
				Dest:               dest,
				Concurrency:        flagConcurrency,
				MaxDeletionPercent: flagMaxDeletionPercent,
			}

			resolved, err := config.Resolve(&cc.Cfg.Config, config.ReadEnvOverrides(), cli)
			if err != nil {
				return fmt.Errorf("%w: %v", syncpkg.ErrValidation, err)
			}

			pidPath := filepath.Join(config.DefaultDataDir(), "watch.pid")
			cleanup, err := writePIDFile(pidPath)
			if err != nil {
				return fmt.Errorf("%w: %v", syncpkg.ErrValidation, err)
			}
			defer cleanup()

			sighup := sighupChannel()
			go func() {
				for range sighup {
					cc.Logger.Info("watch: SIGHUP received, re-read config on next restart to pick up changes")
				}
			}()

			destTransport, err := destTransportFor(cmd.Context(), resolved.Dest)
			if err != nil {
				return fmt.Errorf("%w: %v", syncpkg.ErrValidation, err)
			}

			bandwidthLimitValue, _ := config.ParseSize(resolved.Transfers.BandwidthLimit)

			runCfg := syncpkg.RunConfig{
				SourceRoot:    resolved.Source,
				DestRoot:      resolved.Dest,
				DestTransport: destTransport,
				Filter:        filterConfigFrom(resolved),
				Planner: syncpkg.PlannerConfig{
					Mirror: flagMirror,
				},
				Executor: syncpkg.ExecutorConfig{
					Concurrency: resolved.Transfers.Concurrency,
					Bandwidth:   syncpkg.NewBandwidthLimiter(bandwidthLimitValue, cc.Logger),
				},
				Safety: syncpkg.SafetyConfig{
					MaxDeletionPercent: resolved.Safety.MaxDeletionPercent,
					Force:              resolved.Safety.Force,
					Prompt:             resolved.Safety.Prompt,
				},
				StateDir: config.DefaultDataDir(),
				Events:   eventWriterFor(cc),
				Logger:   cc.Logger,
			}

			return syncpkg.Watch(cmd.Context(), syncpkg.WatchConfig{
				Run:      runCfg,
				Debounce: flagDebounce,
			})
		},
	}

	cmd.Flags().BoolVar(&flagMirror, "mirror", false, "delete destination files absent from source")
	cmd.Flags().DurationVar(&flagDebounce, "debounce", 500*time.Millisecond, "quiet period after a burst of changes before syncing")
	cmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "transfer worker pool size")
	cmd.Flags().Float64Var(&flagMaxDeletionPercent, "max-deletion-percent", 0, "override the deletion guard threshold")

	return cmd
}
