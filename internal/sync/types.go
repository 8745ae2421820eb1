// Package sync implements the scan/plan/execute pipeline, the rolling-hash
// delta algorithm, the bidirectional reconciliation engine, and the
// resume/checkpoint protocol that together make up syncd's sync core.
package sync

import "time"

// ItemType distinguishes files, directories, and symlinks in a FileEntry.
type ItemType int

const (
	ItemTypeFile ItemType = iota
	ItemTypeDir
	ItemTypeSymlink
)

func (t ItemType) String() string {
	switch t {
	case ItemTypeDir:
		return "dir"
	case ItemTypeSymlink:
		return "symlink"
	default:
		return "file"
	}
}

// FileEntry describes one path discovered by a scan.
type FileEntry struct {
	Path        string // relative to the scan root
	AbsPath     string
	Size        int64
	Mtime       time.Time
	Type        ItemType
	SymlinkDest string
	Sparse      bool
	AllocSize   int64
	Inode       uint64
	HasInode    bool
	LinkCount   int
	Xattrs      map[string][]byte
}

// ActionType enumerates what the Executor can do with a SyncAction.
type ActionType int

const (
	ActionCreate ActionType = iota
	ActionUpdate
	ActionSkip
	ActionDelete
)

func (t ActionType) String() string {
	switch t {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionSkip:
		return "skip"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// SyncAction is one unit of work produced by the Planner and consumed
// exactly once by the Executor.
type SyncAction struct {
	Type   ActionType
	Path   string // relative path, both source and destination
	Source *FileEntry
	Reason string // e.g. "absent at destination", "size differs", "checksum comparison forced"

	// HardlinkTo, when non-empty, names a destination path already
	// materialized earlier in this same plan that shares Source's inode.
	// The Executor creates a hardlink to it instead of transferring
	// content again.
	HardlinkTo string
}

// BlockChecksum describes one block of a destination file used as the basis
// for delta matching.
type BlockChecksum struct {
	Index  int
	Offset int64
	Size   int
	Weak   uint32
	Strong uint64
}

// DeltaOp is either a Copy (reuse a byte range from the old destination) or
// a Data (literal payload) instruction.
type DeltaOp struct {
	Copy bool
	// Copy fields.
	Offset int64
	Size   int64
	// Data field.
	Literal []byte
}

// Delta is an ordered instruction stream; applying it left to right against
// the old destination reconstructs the new file exactly.
type Delta []DeltaOp

// ChangeType classifies a path during bidirectional reconciliation.
type ChangeType int

const (
	ChangeNone ChangeType = iota
	ChangeNewInSource
	ChangeNewInDest
	ChangeModifiedInSource
	ChangeModifiedInDest
	ChangeDeletedFromSource
	ChangeDeletedFromDest
	ChangeModifiedBoth
	ChangeCreateCreateConflict
	ChangeModifyDeleteConflict
)

func (c ChangeType) String() string {
	switch c {
	case ChangeNewInSource:
		return "new_in_source"
	case ChangeNewInDest:
		return "new_in_dest"
	case ChangeModifiedInSource:
		return "modified_in_source"
	case ChangeModifiedInDest:
		return "modified_in_dest"
	case ChangeDeletedFromSource:
		return "deleted_from_source"
	case ChangeDeletedFromDest:
		return "deleted_from_dest"
	case ChangeModifiedBoth:
		return "modified_both"
	case ChangeCreateCreateConflict:
		return "create_create_conflict"
	case ChangeModifyDeleteConflict:
		return "modify_delete_conflict"
	default:
		return "unchanged"
	}
}

// SyncState is one side's recorded state for a path as of the last
// successful bisync. Keyed by (path, side) in BisyncStore.
type SyncState struct {
	Path         string
	Side         string // "source" or "dest"
	Mtime        time.Time
	Size         int64
	Checksum     string
	LastSyncedAt time.Time
}

// JournalEntry is one completed action recorded in a ResumeJournal.
type JournalEntry struct {
	Path        string
	Action      ActionType
	Size        int64
	Checksum    string
	CompletedAt time.Time
}

// ResumeJournal is the crash-safe record of progress for a one-way run. See
// journal.go for persistence.
type ResumeJournal struct {
	SchemaVersion    int
	SourceRoot       string
	DestRoot         string
	StartedAt        time.Time
	CheckpointAt     time.Time
	FlagsFingerprint string
	Completed        []JournalEntry
	TotalFiles       int
	BytesTransferred int64
}

// Stats is a plain, point-in-time copy of one run's counters, produced by
// RunStats.Snapshot (see stats.go); it holds no atomics and no error list.
type Stats struct {
	Created              int64
	Updated              int64
	Skipped              int64
	Deleted              int64
	BytesTransferred     int64
	FilesVerified        int64
	VerificationFailures int64
}
