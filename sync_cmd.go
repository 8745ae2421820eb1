package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/syncd-project/syncd/internal/config"
	syncpkg "github.com/syncd-project/syncd/internal/sync"
	"github.com/syncd-project/syncd/internal/sync/transport"
)

func newSyncCmd() *cobra.Command {
	var (
		flagDryRun             bool
		flagDelete             bool
		flagResume             bool
		flagCleanState         bool
		flagForceDelete        bool
		flagParallel           int
		flagBandwidthLimit     string
		flagMinSize            string
		flagMaxSize            string
		flagExclude            []string
		flagMode               string
		flagVerify             bool
		flagCheckpointFiles    int
		flagCheckpointBytes    string
		flagDeleteThreshold    float64
		flagPreserveXattrs     bool
		flagPreserveHardlinks  bool
		flagPreserveACLs       bool
		flagLinks              string
		flagFollowSymlinks     bool
		flagChecksum           bool
		flagIgnoreTimes        bool
		flagSizeOnly           bool
	)

	cmd := &cobra.Command{
		Use:   "sync [source] [dest]",
		Short: "Run a one-way scan/plan/execute sync from source to destination",
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

			verifyMode := ""
			if flagVerify {
				flagMode = "verify"
			}
			if flagMode == "verify" || flagMode == "paranoid" {
				verifyMode = "crypto"
			} else if flagMode == "standard" {
				verifyMode = "fast"
			}

			warnUnsupportedPreservation(cc.Logger, flagPreserveXattrs, flagPreserveACLs, flagLinks)

			cli := config.CLIOverrides{
				Source:             source,
				Dest:               dest,
				Concurrency:        flagParallel,
				Verify:             verifyMode,
				BandwidthLimit:     flagBandwidthLimit,
				Force:              flagForceDelete,
				MaxDeletionPercent: flagDeleteThreshold,
				DryRun:             flagDryRun,
			}

			resolved, err := config.Resolve(&cc.Cfg.Config, config.ReadEnvOverrides(), cli)
			if err != nil {
				return fmt.Errorf("%w: %v", syncpkg.ErrValidation, err)
			}

			filter := filterConfigFrom(resolved)
			filter.Exclude = append(filter.Exclude, flagExclude...)
			if flagMinSize != "" {
				filter.MinSize, _ = config.ParseSize(flagMinSize)
			}
			if flagMaxSize != "" {
				filter.MaxSize, _ = config.ParseSize(flagMaxSize)
			}
			filter.SkipSymlinks = flagLinks == "skip"

			checkpointBytesValue, _ := config.ParseSize(firstNonEmptyStr(flagCheckpointBytes, resolved.Transfers.CheckpointBytes))
			bandwidthLimitValue, _ := config.ParseSize(resolved.Transfers.BandwidthLimit)

			destTransport, err := destTransportFor(cmd.Context(), resolved.Dest)
			if err != nil {
				return fmt.Errorf("%w: %v", syncpkg.ErrValidation, err)
			}

			runCfg := syncpkg.RunConfig{
				SourceRoot:    resolved.Source,
				DestRoot:      resolved.Dest,
				DestTransport: destTransport,
				Filter:        filter,
				Planner: syncpkg.PlannerConfig{
					Mirror:            flagDelete,
					Comparison:        comparisonPolicyFrom(flagChecksum, flagIgnoreTimes, flagSizeOnly),
					PreserveHardlinks: flagPreserveHardlinks,
				},
				Executor: syncpkg.ExecutorConfig{
					Concurrency:     resolved.Transfers.Concurrency,
					Verify:          verifyModeFrom(resolved.Transfers.Verify),
					CheckpointFiles: firstPositiveInt(flagCheckpointFiles, resolved.Transfers.CheckpointFiles),
					CheckpointBytes: checkpointBytesValue,
					Bandwidth:       syncpkg.NewBandwidthLimiter(bandwidthLimitValue, cc.Logger),
				},
				Safety: syncpkg.SafetyConfig{
					MaxDeletionPercent: resolved.Safety.MaxDeletionPercent,
					Force:              resolved.Safety.Force,
					Prompt:             resolved.Safety.Prompt,
				},
				FollowSymlinks: flagFollowSymlinks || flagLinks == "follow",
				DryRun:         resolved.DryRun,
				Resume:         flagResume && !flagCleanState,
				StateDir:       config.DefaultDataDir(),
				Events:         eventWriterFor(cc),
				Logger:         cc.Logger,
			}

			if flagCleanState {
				_ = syncpkg.LoadJournal(runCfg.DestRoot, runCfg.SourceRoot, "", cc.Logger).Delete()
			}

			result, err := syncpkg.RunOneWay(cmd.Context(), runCfg)
			if err != nil {
				return err
			}

			if !cc.JSON {
				printRunSummary(cc.Quiet, result)
			}

			if result.Stats.VerificationFailures > 0 {
				return fmt.Errorf("sync: %d verification failures", result.Stats.VerificationFailures)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "run the pipeline but execute no create/update/delete")
	cmd.Flags().BoolVar(&flagDelete, "delete", false, "enable mirror mode: delete destination files absent from source")
	cmd.Flags().IntVarP(&flagParallel, "parallel", "j", 0, "worker cap")
	cmd.Flags().StringVar(&flagBandwidthLimit, "bwlimit", "", "bytes/sec cap, e.g. 10MB")
	cmd.Flags().StringVar(&flagMinSize, "min-size", "", "skip files smaller than this")
	cmd.Flags().StringVar(&flagMaxSize, "max-size", "", "skip files larger than this")
	cmd.Flags().StringArrayVar(&flagExclude, "exclude", nil, "glob pattern to exclude (repeatable)")
	cmd.Flags().StringVar(&flagMode, "mode", "standard", "verification depth: fast, standard, verify, paranoid")
	cmd.Flags().BoolVar(&flagVerify, "verify", false, "equivalent to --mode verify")
	cmd.Flags().StringVar(&flagLinks, "links", "preserve", "symlink handling: preserve, follow, skip")
	cmd.Flags().BoolVarP(&flagFollowSymlinks, "follow", "L", false, "equivalent to --links follow")
	cmd.Flags().BoolVar(&flagPreserveXattrs, "preserve-xattrs", false, "preserve extended attributes")
	cmd.Flags().BoolVar(&flagPreserveHardlinks, "preserve-hardlinks", false, "materialize hardlinks instead of duplicating content")
	cmd.Flags().BoolVar(&flagPreserveACLs, "preserve-acls", false, "preserve access control lists")
	cmd.Flags().BoolVar(&flagResume, "resume", true, "enable the resume journal")
	cmd.Flags().IntVar(&flagCheckpointFiles, "checkpoint-files", 0, "checkpoint the journal every N completed files")
	cmd.Flags().StringVar(&flagCheckpointBytes, "checkpoint-bytes", "", "checkpoint the journal every N bytes transferred")
	cmd.Flags().BoolVar(&flagCleanState, "clean-state", false, "delete any prior resume journal before starting")
	cmd.Flags().Float64Var(&flagDeleteThreshold, "delete-threshold", 0, "override the deletion guard percentage threshold")
	cmd.Flags().BoolVar(&flagForceDelete, "force-delete", false, "bypass the deletion guard and confirmation prompt")
	cmd.Flags().BoolVar(&flagChecksum, "checksum", false, "always compare content instead of size/mtime")
	cmd.Flags().BoolVar(&flagIgnoreTimes, "ignore-times", false, "compare content even when sizes already match")
	cmd.Flags().BoolVar(&flagSizeOnly, "size-only", false, "skip the mtime comparison, update iff sizes differ")

	return cmd
}

// comparisonPolicyFrom resolves the mutually exclusive comparison flags into
// a single ComparisonPolicy, preferring --checksum over --ignore-times over
// --size-only when more than one is set.
func comparisonPolicyFrom(checksum, ignoreTimes, sizeOnly bool) syncpkg.ComparisonPolicy {
	switch {
	case checksum:
		return syncpkg.ComparisonChecksum
	case ignoreTimes:
		return syncpkg.ComparisonIgnoreTimes
	case sizeOnly:
		return syncpkg.ComparisonSizeOnly
	default:
		return syncpkg.ComparisonDefault
	}
}

func warnUnsupportedPreservation(logger *slog.Logger, xattrs, acls bool, links string) {
	if xattrs {
		logger.Warn("sync: --preserve-xattrs is not yet implemented, ignoring")
	}
	if acls {
		logger.Warn("sync: --preserve-acls is not yet implemented, ignoring")
	}
	if links != "" && links != "preserve" && links != "follow" && links != "skip" {
		logger.Warn("sync: unrecognized --links value, treating as preserve", slog.String("value", links))
	}
}

func firstNonEmptyStr(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositiveInt(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func filterConfigFrom(resolved *config.Resolved) syncpkg.FilterConfig {
	fc := syncpkg.FilterConfig{
		Exclude:      append([]string(nil), resolved.Filter.Exclude...),
		SkipDotfiles: resolved.Filter.SkipDotfiles,
		SkipSymlinks: resolved.Filter.SkipSymlinks,
		IgnoreMarker: resolved.Filter.IgnoreMarker,
	}

	if resolved.Filter.MinSize != "" {
		fc.MinSize, _ = config.ParseSize(resolved.Filter.MinSize)
	}
	if resolved.Filter.MaxSize != "" {
		fc.MaxSize, _ = config.ParseSize(resolved.Filter.MaxSize)
	}

	return fc
}

// destTransportFor resolves dest into the appropriate Transport (local,
// s3://, or [user@]host:/path), per the documented path-parsing rules.
// Returns nil for a local path so RunOneWay falls back to its own
// transport.NewLocal(cfg.DestRoot) default.
func destTransportFor(ctx context.Context, dest string) (transport.Transport, error) {
	t, err := transport.Resolve(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("resolving destination %q: %w", dest, err)
	}

	if _, local := t.(*transport.Local); local {
		return nil, nil
	}

	return t, nil
}

func verifyModeFrom(s string) syncpkg.VerifyMode {
	switch s {
	case "fast":
		return syncpkg.VerifyFast
	case "crypto":
		return syncpkg.VerifyCrypto
	default:
		return syncpkg.VerifyNone
	}
}

func eventWriterFor(cc *CLIContext) *syncpkg.EventWriter {
	if !cc.JSON {
		return nil
	}

	return syncpkg.NewEventWriter(os.Stdout)
}

func printRunSummary(quiet bool, result syncpkg.RunResult) {
	if quiet {
		return
	}

	s := result.Stats
	fmt.Printf("sync complete: %d created, %d updated, %d deleted, %d skipped, %s transferred\n",
		s.Created, s.Updated, s.Deleted, s.Skipped, formatBytes(s.BytesTransferred))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
