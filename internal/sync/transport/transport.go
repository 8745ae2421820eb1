// Package transport defines the uniform, suspending capability surface the
// sync core drives every endpoint through, plus Local, RemoteShell,
// ObjectStore, and Dual implementations of it.
package transport

import (
	"context"
	"io"
	"time"
)

// Stat describes one remote-side entry as returned by Stat or List.
type Stat struct {
	Path      string
	Size      int64
	Mtime     time.Time
	IsDir     bool
	IsSymlink bool
	LinkDest  string
}

// BlockChecksum mirrors sync.BlockChecksum without importing the sync
// package, keeping transport free of a dependency on the engine it serves.
type BlockChecksum struct {
	Index  int
	Offset int64
	Size   int
	Weak   uint32
	Strong uint64
}

// DeltaOp mirrors sync.DeltaOp for the same reason.
type DeltaOp struct {
	Copy    bool
	Offset  int64
	Size    int64
	Literal []byte
}

// ApplyResult reports what happened when a delta was applied remotely.
type ApplyResult struct {
	OperationsCount int
	LiteralBytes    int64
}

// Transport is the capability set every component speaks to polymorphically.
// Concrete variants: Local, RemoteShell, ObjectStore, Dual. Every method may
// suspend; callers must expect blocking I/O and pass a context they are
// willing to have it respect.
type Transport interface {
	// Exists reports whether path exists.
	Exists(ctx context.Context, path string) (bool, error)
	// StatPath returns metadata for a single path.
	StatPath(ctx context.Context, path string) (Stat, error)
	// List enumerates path recursively.
	List(ctx context.Context, path string) ([]Stat, error)
	// CreateDirAll creates path and any missing parents.
	CreateDirAll(ctx context.Context, path string) error
	// Read opens path for streaming read.
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	// Write opens path for streaming write, truncating any existing content.
	Write(ctx context.Context, path string) (io.WriteCloser, error)
	// CopyFile copies src to dst in one streamed pass, returning the number
	// of bytes written and a content digest of what was written. Only Local
	// computes the digest; the other transports return "".
	CopyFile(ctx context.Context, src, dst string) (bytesWritten int64, digest string, err error)
	// Checksums returns the destination-side block checksum table for path,
	// computed with the given block size. Used by the DeltaEngine to build
	// a Delta against a source file.
	Checksums(ctx context.Context, path string, blockSize int) ([]BlockChecksum, error)
	// ApplyDelta applies ops against the existing content of path, writing
	// the result to a temporary location and atomically replacing path.
	ApplyDelta(ctx context.Context, path string, ops []DeltaOp) (ApplyResult, error)
	// Remove deletes path (file or empty directory).
	Remove(ctx context.Context, path string) error
	// CreateSymlink creates a symlink at path pointing at target.
	CreateSymlink(ctx context.Context, path, target string) error
	// CreateHardlink creates a hardlink at path pointing at existing.
	CreateHardlink(ctx context.Context, path, existing string) error
	// SetMtime sets path's modification time.
	SetMtime(ctx context.Context, path string, mtime time.Time) error
	// Close releases any held resources (sessions, connections).
	Close() error
}
