package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/syncd-project/syncd/internal/sync/transport"
)

// RunConfig bundles everything a one-way run needs, grounded on the
// teacher's sync.go runSync orchestration (client/store/engine assembly)
// generalized from a single OneDrive Engine.RunOnce call to this package's
// scan/plan/execute pipeline.
type RunConfig struct {
	SourceRoot string
	DestRoot   string

	Filter   FilterConfig
	Planner  PlannerConfig
	Delta    DeltaEngineConfig
	Executor ExecutorConfig
	Safety   SafetyConfig

	FollowSymlinks bool
	DryRun         bool
	Resume         bool

	StateDir string // holds the resume journal and dir-mtime cache

	// DirCache, if set, is reused across calls instead of loading a fresh
	// one from StateDir — watch mode shares a single cache so the
	// invalidations it applies between runs take effect.
	DirCache *DirMtimeCache

	// DestTransport, if set, is used in place of a transport.Local rooted
	// at DestRoot — the CLI layer builds this for a remote destination
	// (s3://, [user@]host:/path) and leaves it nil for a local one.
	DestTransport transport.Transport

	Events *EventWriter
	Logger *slog.Logger
}

// RunResult reports what a one-way run did.
type RunResult struct {
	Stats Stats
	Plan  []SyncAction
}

// RunOneWay executes a full scan/plan/execute cycle from SourceRoot (always
// scanned locally) to DestRoot or cfg.DestTransport if set (local or remote
// — s3:// and [user@]host:/path destinations are resolved by the CLI layer
// into a transport.Transport and passed through here). Mirrors the teacher's
// runSync: resolve config, build the engine, run it once, report.
func RunOneWay(ctx context.Context, cfg RunConfig) (RunResult, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	if err := CheckPathsDistinct(cfg.SourceRoot, cfg.DestRoot); err != nil {
		return RunResult{}, err
	}

	dst := cfg.DestTransport
	if dst == nil {
		dst = transport.NewLocal(cfg.DestRoot)
	}

	_, destIsLocal := dst.(*transport.Local)

	// DeltaEngine and Executor both need a Transport whose Read resolves
	// against SourceRoot and whose every other method resolves against
	// dst — exactly what Dual provides. Passing dst alone (as if it served
	// both roles) would read source content from under the destination
	// root instead.
	engineTransport := &transport.Dual{Src: transport.NewLocal(cfg.SourceRoot), Dst: dst}
	defer func() {
		if err := engineTransport.Close(); err != nil {
			logger.Warn("sync: closing transport", slog.String("error", err.Error()))
		}
	}()

	dirCache := cfg.DirCache
	if dirCache == nil {
		dirCachePath := filepath.Join(cfg.StateDir, ".dirmtime-cache.json")
		dirCache = NewDirMtimeCache(dirCachePath, logger)
	}

	filter := NewFilter(cfg.SourceRoot, cfg.Filter)
	scanner := NewScanner(filter, logger, dirCache, cfg.FollowSymlinks)

	scanResult, err := scanner.Scan(ctx, cfg.SourceRoot)
	if err != nil {
		return RunResult{}, fmt.Errorf("sync: scanning %s: %w", cfg.SourceRoot, err)
	}

	planner := NewPlanner(cfg.Planner, engineTransport, logger)

	plan, err := planner.Plan(ctx, scanResult.Entries)
	if err != nil {
		return RunResult{}, fmt.Errorf("sync: planning: %w", err)
	}

	deletions := 0
	for _, a := range plan {
		if a.Type == ActionDelete {
			deletions++
		}
	}

	// The guard's percentage cap is evaluated against how many items exist
	// at the destination, not how many were scanned at the source — a small
	// source pruning a much larger destination is exactly the scenario the
	// guard exists to catch, and comparing against the source count would
	// wildly overstate the percentage. Skip the extra listing when there's
	// nothing to guard against.
	destCount := 0
	if deletions > 0 {
		destEntries, err := engineTransport.List(ctx, "")
		if err != nil {
			return RunResult{Plan: plan}, fmt.Errorf("sync: listing destination for deletion guard: %w", err)
		}

		destCount = len(destEntries)
	}

	if err := CheckDeletionGuard(cfg.Safety, deletions, destCount, logger, os.Stdin); err != nil {
		return RunResult{Plan: plan}, err
	}

	events := cfg.Events
	now := time.Now()

	if events != nil {
		_ = events.Start(now)
	}

	if cfg.DryRun {
		if events != nil {
			for _, a := range plan {
				size := int64(0)
				if a.Source != nil {
					size = a.Source.Size
				}
				_ = events.Action(now, ActionTypeToEvent(a.Type), a.Path, size, a.Reason)
			}
		}

		return RunResult{Plan: plan}, nil
	}

	fingerprint := FlagsFingerprint{
		Mirror:  cfg.Planner.Mirror,
		Exclude: cfg.Filter.Exclude,
		MinSize: cfg.Filter.MinSize,
		MaxSize: cfg.Filter.MaxSize,
	}.Fingerprint()

	var journal *Journal
	if cfg.Resume {
		journalPath := filepath.Join(cfg.DestRoot, journalFileName)
		journal = LoadJournal(cfg.DestRoot, cfg.SourceRoot, fingerprint, logger)
		plan = filterCompleted(plan, journal, journalPath)
	}

	stats := &RunStats{}

	deltaCfg := cfg.Delta
	deltaCfg.LocalToLocal = destIsLocal

	engine := NewDeltaEngine(engineTransport, deltaCfg, logger)
	executor := NewExecutor(cfg.Executor, engine, engineTransport, journal, stats, logger)

	if events != nil {
		for _, a := range plan {
			size := int64(0)
			if a.Source != nil {
				size = a.Source.Size
			}
			_ = events.Action(now, ActionTypeToEvent(a.Type), a.Path, size, a.Reason)
		}
	}

	runErr := executor.Run(ctx, plan)

	snapshot := stats.Snapshot()
	if events != nil {
		_ = events.Summary(now, snapshot)
	}

	if journal != nil {
		if err := journal.Delete(); err != nil {
			logger.Warn("sync: removing completed journal", slog.String("error", err.Error()))
		}
	}

	if cfg.DirCache == nil {
		if err := dirCache.Save(); err != nil {
			logger.Warn("sync: saving directory mtime cache", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		return RunResult{Stats: snapshot, Plan: plan}, fmt.Errorf("sync: run completed with errors: %w", runErr)
	}

	return RunResult{Stats: snapshot, Plan: plan}, nil
}

// filterCompleted drops plan entries the journal already recorded as done,
// implementing resume semantics across a crashed/interrupted run.
func filterCompleted(plan []SyncAction, journal *Journal, _ string) []SyncAction {
	if journal == nil {
		return plan
	}

	out := make([]SyncAction, 0, len(plan))
	for _, a := range plan {
		if journal.IsCompleted(a.Path) {
			continue
		}
		out = append(out, a)
	}

	return out
}
