package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig tunes continuous sync mode: run once immediately, then
// re-trigger RunOneWay whenever the source tree settles after a burst of
// changes. Grounded on original_source/src/sync/watch.rs (a feature the
// distilled pipeline spec dropped), translated from its channel/debounce
// loop into fsnotify's event channel plus a time.Timer.
type WatchConfig struct {
	Run      RunConfig
	Debounce time.Duration
}

const defaultDebounce = 500 * time.Millisecond

// Watch runs an initial sync, then watches SourceRoot recursively and
// re-runs the pipeline each time the tree goes quiet for Debounce after a
// burst of create/write/remove/rename events. It returns when ctx is
// canceled or the watcher itself fails to start.
func Watch(ctx context.Context, cfg WatchConfig) error {
	logger := cfg.Run.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	dirCache := NewDirMtimeCache(filepath.Join(cfg.Run.StateDir, ".dirmtime-cache.json"), logger)
	cfg.Run.DirCache = dirCache

	logger.Info("watch: running initial sync")
	if _, err := RunOneWay(ctx, cfg.Run); err != nil {
		logger.Error("watch: initial sync failed", slog.String("error", err.Error()))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addRecursive(watcher, cfg.Run.SourceRoot); err != nil {
		return err
	}

	logger.Info("watch: watching for changes", slog.String("root", cfg.Run.SourceRoot))

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			if err := dirCache.Save(); err != nil {
				logger.Warn("watch: saving directory mtime cache", slog.String("error", err.Error()))
			}
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !shouldSyncEvent(ev) {
				continue
			}

			if rel, err := filepath.Rel(cfg.Run.SourceRoot, ev.Name); err == nil {
				dirCache.InvalidatePath(rel)
			}

			if ev.Op&fsnotify.Create != 0 {
				_ = watcher.Add(ev.Name) // best-effort: new subdirectories join the watch set
			}

			pending = true
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watch: fsnotify error", slog.String("error", err.Error()))

		case <-timer.C:
			if !pending {
				continue
			}

			pending = false
			logger.Info("watch: changes settled, syncing")

			if _, err := RunOneWay(ctx, cfg.Run); err != nil {
				logger.Error("watch: sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

// shouldSyncEvent reports whether ev warrants a resync, excluding
// metadata-only notifications (chmod) the way the original watch mode
// ignores pure access events.
func shouldSyncEvent(ev fsnotify.Event) bool {
	return ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

// addRecursive registers every directory beneath root with watcher.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	filter := NewFilter(root, FilterConfig{})
	scanner := NewScanner(filter, slog.Default(), nil, false)

	result, err := scanner.Scan(context.Background(), root)
	if err != nil {
		return err
	}

	if err := watcher.Add(root); err != nil {
		return err
	}

	for _, entry := range result.Entries {
		if entry.Type == ItemTypeDir {
			_ = watcher.Add(entry.AbsPath)
		}
	}

	return nil
}
