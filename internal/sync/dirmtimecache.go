package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// dirCacheVersion is bumped whenever the on-disk shape changes; a mismatch
// is treated as absent rather than rejected, consistent with §7's tolerant
// parsing of persisted state.
const dirCacheVersion = 2

// cachedEntry is the persisted subset of FileEntry needed to replay a path
// without rescanning it. AbsPath is dropped (recomputable from the scan
// root + Path) and Xattrs is dropped (extended attributes are re-read
// fresh rather than trusted stale on a cache hit).
type cachedEntry struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Mtime       time.Time `json:"mtime"`
	Type        ItemType  `json:"type"`
	SymlinkDest string    `json:"symlink_dest,omitempty"`
	Sparse      bool      `json:"sparse,omitempty"`
	AllocSize   int64     `json:"alloc_size,omitempty"`
	Inode       uint64    `json:"inode,omitempty"`
	HasInode    bool      `json:"has_inode,omitempty"`
	LinkCount   int       `json:"link_count,omitempty"`
}

func toCachedEntry(e FileEntry) cachedEntry {
	return cachedEntry{
		Path: e.Path, Size: e.Size, Mtime: e.Mtime, Type: e.Type,
		SymlinkDest: e.SymlinkDest, Sparse: e.Sparse, AllocSize: e.AllocSize,
		Inode: e.Inode, HasInode: e.HasInode, LinkCount: e.LinkCount,
	}
}

func (c cachedEntry) toFileEntry(root string) FileEntry {
	return FileEntry{
		Path: c.Path, AbsPath: joinRelPath(root, c.Path), Size: c.Size, Mtime: c.Mtime,
		Type: c.Type, SymlinkDest: c.SymlinkDest, Sparse: c.Sparse, AllocSize: c.AllocSize,
		Inode: c.Inode, HasInode: c.HasInode, LinkCount: c.LinkCount,
	}
}

func joinRelPath(root, rel string) string {
	if rel == "" {
		return root
	}

	return root + string(os.PathSeparator) + rel
}

type dirCacheFile struct {
	Version int                    `json:"version"`
	Dirs    map[string]time.Time   `json:"dirs"`
	Entries map[string]cachedEntry `json:"entries"`
}

// DirMtimeCache persists directory->last-known-mtime, plus every entry ever
// scanned, so the Scanner can skip descending into an unchanged subtree on a
// subsequent run and replay its contents from cache instead of losing them.
// Backed by a flat JSON file, following the teacher's SessionStore
// persistence pattern (internal/sync/session_store.go): write-temp-then-
// rename, absent-or-unparseable file treated as empty rather than fatal.
type DirMtimeCache struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	dirs    map[string]time.Time
	entries map[string]cachedEntry
}

// NewDirMtimeCache loads path if present, or starts empty.
func NewDirMtimeCache(path string, logger *slog.Logger) *DirMtimeCache {
	c := &DirMtimeCache{
		path: path, logger: logger,
		dirs: make(map[string]time.Time), entries: make(map[string]cachedEntry),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return c
	}

	var f dirCacheFile
	if err := json.Unmarshal(raw, &f); err != nil || f.Version != dirCacheVersion {
		logger.Warn("dirmtimecache: discarding unparseable or stale cache", slog.String("path", path))
		return c
	}

	c.dirs = f.Dirs
	c.entries = f.Entries

	return c
}

// Get returns the cached mtime for dir, if any.
func (c *DirMtimeCache) Get(dir string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.dirs[dir]

	return t, ok
}

// Put records dir's mtime.
func (c *DirMtimeCache) Put(dir string, mtime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dirs[dir] = mtime
}

// PutEntry records entry so a later Subtree call covering its path can
// replay it without rescanning.
func (c *DirMtimeCache) PutEntry(entry FileEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[entry.Path] = toCachedEntry(entry)
}

// Subtree returns every cached entry whose path is dir or lies beneath it,
// reconstructed against root so AbsPath is valid for the current scan.
// Used to replay a directory the caller decided not to rescan because its
// mtime matches what was cached last time.
func (c *DirMtimeCache) Subtree(root, dir string) []FileEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prefix := dir + "/"

	out := make([]FileEntry, 0, len(c.entries))

	for path, ce := range c.entries {
		if path != dir && !strings.HasPrefix(path, prefix) {
			continue
		}

		out = append(out, ce.toFileEntry(root))
	}

	return out
}

// Invalidate evicts dir and every entry beneath it, forcing a full re-walk
// on the next scan. Called by watch mode when fsnotify reports a change
// under dir.
func (c *DirMtimeCache) Invalidate(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.dirs, dir)
	delete(c.entries, dir)

	prefix := dir + "/"
	for path := range c.entries {
		if strings.HasPrefix(path, prefix) {
			delete(c.entries, path)
		}
	}
}

// InvalidatePath evicts relPath itself plus every ancestor directory's
// cached mtime, up to (but not including) the scan root. A changed file
// rarely bumps its parent directory's mtime, so evicting only relPath
// would leave the parent's cached mtime looking unchanged on the next
// scan — the parent (and every directory above it down to the root walk
// root) would then be replayed wholesale from its own stale cached
// subtree snapshot, silently serving the pre-change content. Evicting the
// whole ancestor chain forces a real re-walk from the nearest unaffected
// ancestor down through relPath.
func (c *DirMtimeCache) InvalidatePath(relPath string) {
	c.Invalidate(relPath)

	for dir := parentDir(relPath); dir != ""; dir = parentDir(dir) {
		c.Invalidate(dir)
	}
}

// parentDir returns relPath's parent in the same slash-separated relative
// path convention the Scanner uses, or "" once it reaches the scan root.
func parentDir(relPath string) string {
	idx := strings.LastIndexByte(relPath, '/')
	if idx < 0 {
		return ""
	}

	return relPath[:idx]
}

// Save atomically overwrites the cache file.
func (c *DirMtimeCache) Save() error {
	c.mu.RLock()
	dirs := make(map[string]time.Time, len(c.dirs))
	for k, v := range c.dirs {
		dirs[k] = v
	}
	entries := make(map[string]cachedEntry, len(c.entries))
	for k, v := range c.entries {
		entries[k] = v
	}
	c.mu.RUnlock()

	blob, err := json.MarshalIndent(dirCacheFile{Version: dirCacheVersion, Dirs: dirs, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("dirmtimecache: encoding: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("dirmtimecache: writing temp: %w", err)
	}

	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("dirmtimecache: renaming temp: %w", err)
	}

	return nil
}
