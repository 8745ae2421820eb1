package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// vcsDirs are always skipped regardless of filter configuration.
var vcsDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
}

// Scanner walks a root directory producing FileEntries, honoring a Filter
// and optionally consulting a DirMtimeCache to skip unchanged subtrees.
// Grounded on the teacher's internal/sync/scanner.go: a side-effect-free
// struct holding only its collaborators, per-entry error collection rather
// than abort-on-first-error, and directory-mtime-driven skip logic.
type Scanner struct {
	filter   *Filter
	logger   *slog.Logger
	dirCache *DirMtimeCache // optional; nil disables skip-rescan
	follow   bool
}

// NewScanner returns a Scanner. dirCache may be nil.
func NewScanner(filter *Filter, logger *slog.Logger, dirCache *DirMtimeCache, follow bool) *Scanner {
	return &Scanner{filter: filter, logger: logger, dirCache: dirCache, follow: follow}
}

// ScanResult carries the successfully scanned entries plus any per-path
// errors encountered along the way (permission errors and similar), which do
// not abort the walk.
type ScanResult struct {
	Entries []FileEntry
	Errors  []error
}

// Scan walks root (an absolute path) and returns every entry beneath it,
// relative paths rooted at root. root itself is not emitted.
func (s *Scanner) Scan(ctx context.Context, root string) (ScanResult, error) {
	var result ScanResult

	err := filepath.WalkDir(root, func(absPath string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if walkErr != nil {
			if os.IsPermission(walkErr) {
				result.Errors = append(result.Errors, fmt.Errorf("scan: %s: %w", absPath, walkErr))
				return nil
			}

			return walkErr
		}

		if absPath == root {
			return nil
		}

		relPath, relErr := filepath.Rel(root, absPath)
		if relErr != nil {
			return relErr
		}

		if d.IsDir() && vcsDirs[d.Name()] {
			return fs.SkipDir
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			result.Errors = append(result.Errors, fmt.Errorf("scan: %s: %w", relPath, infoErr))
			return nil
		}

		if !s.filter.Allow(relPath, d.IsDir(), info.Size()) {
			if d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			if replayed, ok := s.replayUnchangedDir(root, relPath, info.ModTime()); ok {
				result.Entries = append(result.Entries, replayed...)
				return fs.SkipDir
			}

			dirEntry := FileEntry{
				Path: relPath, AbsPath: absPath, Mtime: info.ModTime(), Type: ItemTypeDir,
			}

			result.Entries = append(result.Entries, dirEntry)

			if s.dirCache != nil {
				s.dirCache.Put(relPath, info.ModTime())
				s.dirCache.PutEntry(dirEntry)
			}

			return nil
		}

		entry, entryErr := s.buildEntry(absPath, relPath, info)
		if entryErr != nil {
			result.Errors = append(result.Errors, entryErr)
			return nil
		}

		result.Entries = append(result.Entries, entry)

		if s.dirCache != nil {
			s.dirCache.PutEntry(entry)
		}

		return nil
	})
	if err != nil {
		return result, fmt.Errorf("scan: walking %s: %w", root, err)
	}

	return result, nil
}

// replayUnchangedDir reports whether dir's cached mtime still matches the
// filesystem's current mtime within the 1-second granularity tolerance
// filesystems commonly impose, and if so returns the entire subtree (the
// directory itself plus everything beneath it) as it was recorded on the
// previous scan, so the caller can skip descending without losing those
// entries from the result.
func (s *Scanner) replayUnchangedDir(root, relPath string, mtime time.Time) ([]FileEntry, bool) {
	if s.dirCache == nil {
		return nil, false
	}

	cached, ok := s.dirCache.Get(relPath)
	if !ok || absDiff(cached, mtime) > time.Second {
		return nil, false
	}

	return s.dirCache.Subtree(root, relPath), true
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}

	return d
}

func (s *Scanner) buildEntry(absPath, relPath string, info fs.FileInfo) (FileEntry, error) {
	entry := FileEntry{
		Path:    relPath,
		AbsPath: absPath,
		Size:    info.Size(),
		Mtime:   info.ModTime(),
		Type:    ItemTypeFile,
	}

	if info.Mode()&os.ModeSymlink != 0 {
		entry.Type = ItemTypeSymlink

		target, err := os.Readlink(absPath)
		if err != nil {
			return FileEntry{}, fmt.Errorf("scan: %s: reading symlink: %w", relPath, err)
		}

		entry.SymlinkDest = target

		if s.follow {
			followed, statErr := os.Stat(absPath)
			if statErr == nil {
				entry.Size = followed.Size()
				entry.Mtime = followed.ModTime()
			}
		}
	}

	addPlatformMetadata(&entry, info)

	return entry, nil
}
