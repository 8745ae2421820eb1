package main

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/syncd-project/syncd/internal/config"
	"github.com/syncd-project/syncd/internal/sync/bisync"
)

func newBisyncCmd() *cobra.Command {
	var (
		flagDryRun             bool
		flagPolicy             string
		flagMaxDeletionPercent float64
		flagStateDB            string
		flagCleanState         bool
	)

	cmd := &cobra.Command{
		Use:   "bisync [left] [right]",
		Short: "Reconcile two directories bidirectionally against a persisted prior-sync baseline",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			left, right := flagSource, flagDest
			if len(args) > 0 {
				left = args[0]
			}
			if len(args) > 1 {
				right = args[1]
			}

			cli := config.CLIOverrides{
				Source:             left,
				Dest:               right,
				MaxDeletionPercent: flagMaxDeletionPercent,
				Policy:             flagPolicy,
				DryRun:             flagDryRun,
			}

			resolved, err := config.Resolve(&cc.Cfg.Config, config.ReadEnvOverrides(), cli)
			if err != nil {
				return fmt.Errorf("bisync: %w", err)
			}

			stateDB := flagStateDB
			if stateDB == "" {
				stateDB = resolved.Bisync.StateDB
			}
			if stateDB == "" {
				cacheRoot, err := os.UserCacheDir()
				if err != nil {
					cacheRoot = config.DefaultDataDir()
				}
				h := fnv.New64a()
				_, _ = h.Write([]byte(resolved.Source + "\x00" + resolved.Dest))
				stateDB = filepath.Join(cacheRoot, "syncd", "bisync", fmt.Sprintf("%016x.db", h.Sum64()))
				if err := os.MkdirAll(filepath.Dir(stateDB), 0o755); err != nil {
					return fmt.Errorf("bisync: creating state directory: %w", err)
				}
			}

			if flagCleanState {
				if err := os.Remove(stateDB); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("bisync: clearing state database: %w", err)
				}
			}

			store, err := bisync.OpenStore(cmd.Context(), stateDB)
			if err != nil {
				return fmt.Errorf("bisync: opening state database: %w", err)
			}
			defer store.Close()

			engine := bisync.NewEngine(bisync.Config{
				SourceRoot:         resolved.Source,
				DestRoot:           resolved.Dest,
				StateDBPath:        stateDB,
				Policy:             policyFrom(resolved.Bisync.Policy),
				MaxDeletionPercent: resolved.Bisync.MaxDeletionPercent,
				DryRun:             resolved.DryRun,
				Concurrency:        resolved.Transfers.Concurrency,
				Filter: filterConfigFrom(resolved),
			}, store, cc.Logger)

			result, err := engine.Sync(cmd.Context())
			if err != nil {
				return err
			}

			if !cc.Quiet {
				fmt.Printf("bisync complete: %d changes, %d conflicts resolved\n",
					len(result.Changes), len(result.Resolutions))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "preview changes without executing them")
	cmd.Flags().StringVar(&flagPolicy, "conflict-resolution", "", "conflict policy: newer, source-wins, dest-wins, rename-both")
	cmd.Flags().Float64Var(&flagMaxDeletionPercent, "max-deletion-percent", 0, "override the deletion guard threshold")
	cmd.Flags().StringVar(&flagStateDB, "state-db", "", "path to the bisync state database")
	cmd.Flags().BoolVar(&flagCleanState, "clean-state", false, "delete the persisted prior-sync baseline before starting")

	return cmd
}

func policyFrom(s string) bisync.ConflictPolicy {
	switch s {
	case "source-wins":
		return bisync.PolicySourceWins
	case "dest-wins":
		return bisync.PolicyDestWins
	case "rename-both":
		return bisync.PolicyRenameBoth
	default:
		return bisync.PolicyNewerWins
	}
}
