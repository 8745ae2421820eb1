package sync

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileName is the per-directory marker file holding ordered glob
// rules, analogous to the teacher's .odignore but generalized to this
// tool's own rule syntax (§6 Filter semantics: "+ PATTERN" includes,
// "- PATTERN" or a bare pattern excludes, first match wins).
const ignoreFileName = ".syncignore"

// FilterConfig controls which paths a Filter admits.
type FilterConfig struct {
	Exclude      []string
	MinSize      int64
	MaxSize      int64 // 0 means unbounded
	SkipDotfiles bool
	SkipSymlinks bool
	IgnoreMarker string // overrides ignoreFileName when non-empty
}

// Filter decides, for each scanned path, whether it participates in sync.
// Ordered rule cascade: sync_paths allowlist (not modeled here — out of
// core scope per the CLI's own path arguments) -> configured exclude
// patterns and size bounds -> per-directory .syncignore marker files.
// Grounded on the teacher's FilterEngine (internal/sync/filter.go), which
// layers sync_paths -> config patterns -> .odignore in the same order.
type Filter struct {
	cfg   FilterConfig
	root  string
	mu    sync.RWMutex
	cache map[string]*ignore.GitIgnore
}

// NewFilter returns a Filter rooted at root.
func NewFilter(root string, cfg FilterConfig) *Filter {
	if cfg.IgnoreMarker == "" {
		cfg.IgnoreMarker = ignoreFileName
	}

	return &Filter{cfg: cfg, root: root, cache: make(map[string]*ignore.GitIgnore)}
}

// Allow reports whether relPath (relative to root) should be synced.
// size is only consulted for files, not directories.
func (f *Filter) Allow(relPath string, isDir bool, size int64) bool {
	base := filepath.Base(relPath)

	if f.cfg.SkipDotfiles && strings.HasPrefix(base, ".") && relPath != "." {
		return false
	}

	if !isDir {
		if f.cfg.MinSize > 0 && size < f.cfg.MinSize {
			return false
		}

		if f.cfg.MaxSize > 0 && size > f.cfg.MaxSize {
			return false
		}
	}

	for _, pattern := range f.cfg.Exclude {
		if matched, _ := filepath.Match(pattern, base); matched {
			return false
		}

		if matched, _ := filepath.Match(pattern, relPath); matched {
			return false
		}
	}

	if gi := f.ignoreForDir(filepath.Dir(relPath)); gi != nil {
		if gi.MatchesPath(relPath) {
			return false
		}
	}

	return true
}

// ignoreForDir returns the parsed .syncignore for dir (relative to root),
// loading and caching it on first use. A missing marker file yields a nil
// (permissive) matcher, cached the same way to avoid repeated stat calls.
func (f *Filter) ignoreForDir(dir string) *ignore.GitIgnore {
	f.mu.RLock()
	gi, ok := f.cache[dir]
	f.mu.RUnlock()

	if ok {
		return gi
	}

	gi = f.loadIgnoreFile(dir)

	f.mu.Lock()
	f.cache[dir] = gi
	f.mu.Unlock()

	return gi
}

func (f *Filter) loadIgnoreFile(dir string) *ignore.GitIgnore {
	path := filepath.Join(f.root, dir, f.cfg.IgnoreMarker)

	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+ "):
			line = "!" + strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "- "):
			line = strings.TrimSpace(line[2:])
		}

		// gitignore lets the last matching pattern win; prepending makes the
		// first rule in the file the one that decides.
		lines = append([]string{line}, lines...)
	}

	if len(lines) == 0 {
		return nil
	}

	return ignore.CompileIgnoreLines(lines...)
}
