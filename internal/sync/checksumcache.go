package sync

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registered for database/sql
)

// ChecksumCache persists expensive content checksums keyed by relative path,
// hitting only when (mtime, size, kind) all match the cached entry. Backed
// by modernc.org/sqlite with goose-managed schema, following the teacher's
// SQLiteStore (internal/sync/state.go): grouped prepared statements, WAL
// mode, and an io.Closer-satisfying lifecycle.
type ChecksumCache struct {
	db *sql.DB

	getStmt    *sql.Stmt
	putStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	pathsStmt  *sql.Stmt
}

// ChecksumEntry is one cached digest.
type ChecksumEntry struct {
	MtimeUnix int64
	Size      int64
	Kind      string
	Digest    string
	UpdatedAt int64
}

// NewChecksumCache opens (creating if necessary) the sqlite database at
// dbPath and applies any pending migrations.
func NewChecksumCache(ctx context.Context, dbPath string) (*ChecksumCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("checksumcache: opening %q: %w", dbPath, err)
	}

	if err := setPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, checksumCacheMigrations, "migrations/checksumcache"); err != nil {
		db.Close()
		return nil, err
	}

	c := &ChecksumCache{db: db}

	if err := c.prepare(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

func setPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_size_limit=67108864",
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("checksumcache: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

func (c *ChecksumCache) prepare() error {
	var err error

	if c.getStmt, err = c.db.Prepare(`SELECT mtime_unix, size, kind, digest, updated_at FROM checksums WHERE path = ?`); err != nil {
		return fmt.Errorf("checksumcache: preparing get: %w", err)
	}

	if c.putStmt, err = c.db.Prepare(`
		INSERT INTO checksums (path, mtime_unix, size, kind, digest, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime_unix = excluded.mtime_unix,
			size = excluded.size,
			kind = excluded.kind,
			digest = excluded.digest,
			updated_at = excluded.updated_at
	`); err != nil {
		return fmt.Errorf("checksumcache: preparing put: %w", err)
	}

	if c.deleteStmt, err = c.db.Prepare(`DELETE FROM checksums WHERE path = ?`); err != nil {
		return fmt.Errorf("checksumcache: preparing delete: %w", err)
	}

	if c.pathsStmt, err = c.db.Prepare(`SELECT path FROM checksums`); err != nil {
		return fmt.Errorf("checksumcache: preparing paths: %w", err)
	}

	return nil
}

// Lookup returns the cached entry for path, and whether it was found AND
// matches mtimeUnix/size/kind exactly (a stale entry is reported as a miss,
// not returned).
func (c *ChecksumCache) Lookup(ctx context.Context, path string, mtimeUnix, size int64, kind string) (ChecksumEntry, bool, error) {
	var e ChecksumEntry

	err := c.getStmt.QueryRowContext(ctx, path).Scan(&e.MtimeUnix, &e.Size, &e.Kind, &e.Digest, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return ChecksumEntry{}, false, nil
	}

	if err != nil {
		return ChecksumEntry{}, false, fmt.Errorf("checksumcache: lookup %q: %w", path, err)
	}

	if e.MtimeUnix != mtimeUnix || e.Size != size || e.Kind != kind {
		return ChecksumEntry{}, false, nil
	}

	return e, true, nil
}

// Put stores (or replaces) the checksum entry for path.
func (c *ChecksumCache) Put(ctx context.Context, path string, e ChecksumEntry) error {
	if _, err := c.putStmt.ExecContext(ctx, path, e.MtimeUnix, e.Size, e.Kind, e.Digest, e.UpdatedAt); err != nil {
		return fmt.Errorf("checksumcache: put %q: %w", path, err)
	}

	return nil
}

// Prune removes every cached path not present in live, per the spec's
// reachability-based pruning policy (decided in SPEC_FULL.md §9 over an
// age-based alternative the spec did not name a retention period for).
func (c *ChecksumCache) Prune(ctx context.Context, live map[string]bool) (int, error) {
	rows, err := c.pathsStmt.QueryContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("checksumcache: prune: listing paths: %w", err)
	}
	defer rows.Close()

	var stale []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return 0, fmt.Errorf("checksumcache: prune: scanning path: %w", err)
		}

		if !live[p] {
			stale = append(stale, p)
		}
	}

	for _, p := range stale {
		if _, err := c.deleteStmt.ExecContext(ctx, p); err != nil {
			return 0, fmt.Errorf("checksumcache: prune: deleting %q: %w", p, err)
		}
	}

	return len(stale), nil
}

// Close releases the underlying database handle.
func (c *ChecksumCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("checksumcache: close: %w", err)
	}

	return nil
}
