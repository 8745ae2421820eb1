package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const journalSchemaVersion = 1

// journalFileName is the sidecar written under the destination root.
const journalFileName = ".sync-state.json"

// FlagsFingerprint deterministically digests the sync flags that, if
// changed between runs, require discarding any existing journal because a
// different flag set can legitimately reclassify already-completed work.
type FlagsFingerprint struct {
	Mirror       bool
	Exclude      []string
	MinSize      int64
	MaxSize      int64
}

// Fingerprint returns a stable hex digest of f, built by hashing a canonical
// (sorted) encoding with xxhash, mirroring the teacher's preference for
// xxhash over crypto hashes for non-adversarial fingerprinting.
func (f FlagsFingerprint) Fingerprint() string {
	sorted := append([]string(nil), f.Exclude...)
	sortStrings(sorted)

	canon := struct {
		Mirror  bool
		Exclude []string
		MinSize int64
		MaxSize int64
	}{f.Mirror, sorted, f.MinSize, f.MaxSize}

	blob, _ := json.Marshal(canon)

	return fmt.Sprintf("%016x", xxhash.Sum64(blob))
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// journalFile is the on-disk JSON shape for ResumeJournal.
type journalFile struct {
	SchemaVersion    int            `json:"schema_version"`
	SourceRoot       string         `json:"source_root"`
	DestRoot         string         `json:"dest_root"`
	StartedAt        time.Time      `json:"started_at"`
	CheckpointAt     time.Time      `json:"checkpoint_at"`
	FlagsFingerprint string         `json:"flags_fingerprint"`
	Completed        []JournalEntry `json:"completed"`
	TotalFiles       int            `json:"total_files"`
	BytesTransferred int64          `json:"bytes_transferred"`
}

// Journal manages the crash-safe resume sidecar for a one-way run. Grounded
// on the teacher's SessionStore (internal/sync/session_store.go): JSON file,
// write-temp-then-rename, absent-or-unparseable treated as absent.
type Journal struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	state     journalFile
	completed map[string]bool
}

// LoadJournal loads an existing journal at destRoot/.sync-state.json if it
// matches fingerprint, or returns a fresh journal otherwise (discarding any
// mismatched file per §4.8).
func LoadJournal(destRoot, sourceRoot, fingerprint string, logger *slog.Logger) *Journal {
	path := destRoot + string(os.PathSeparator) + journalFileName
	j := &Journal{path: path, logger: logger, completed: make(map[string]bool)}

	raw, err := os.ReadFile(path)
	if err != nil {
		j.reset(sourceRoot, destRoot, fingerprint)
		return j
	}

	var f journalFile
	if err := json.Unmarshal(raw, &f); err != nil {
		logger.Warn("journal: unparseable, starting fresh", slog.String("error", err.Error()))
		j.reset(sourceRoot, destRoot, fingerprint)

		return j
	}

	if f.SchemaVersion != journalSchemaVersion || f.FlagsFingerprint != fingerprint {
		logger.Info("journal: flags changed or schema mismatch, starting fresh")
		j.reset(sourceRoot, destRoot, fingerprint)

		return j
	}

	j.state = f
	for _, e := range f.Completed {
		j.completed[e.Path] = true
	}

	return j
}

func (j *Journal) reset(sourceRoot, destRoot, fingerprint string) {
	j.state = journalFile{
		SchemaVersion:    journalSchemaVersion,
		SourceRoot:       sourceRoot,
		DestRoot:         destRoot,
		StartedAt:        time.Now(),
		FlagsFingerprint: fingerprint,
	}
	j.completed = make(map[string]bool)
}

// IsCompleted reports whether path was already recorded as done.
func (j *Journal) IsCompleted(path string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.completed[path]
}

// RecordCompletion appends a completed entry in memory; callers must call
// Checkpoint to persist it.
func (j *Journal) RecordCompletion(entry JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.state.Completed = append(j.state.Completed, entry)
	j.completed[entry.Path] = true
	j.state.BytesTransferred += entry.Size
}

// Checkpoint atomically overwrites the journal file with the current
// in-memory state.
func (j *Journal) Checkpoint() error {
	j.mu.Lock()
	j.state.CheckpointAt = time.Now()
	blob, err := json.MarshalIndent(j.state, "", "  ")
	j.mu.Unlock()

	if err != nil {
		return fmt.Errorf("journal: encoding: %w", err)
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("journal: writing temp: %w", err)
	}

	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("journal: renaming temp: %w", err)
	}

	return nil
}

// Delete removes the journal file on clean completion of the run.
func (j *Journal) Delete() error {
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("journal: deleting: %w", err)
	}

	return nil
}
