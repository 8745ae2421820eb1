// Package bisync implements the bidirectional reconciliation engine: per-path
// classification against a persisted prior-sync baseline, conflict
// resolution, and execution (or dry-run simulation) of the resulting
// actions.
package bisync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	syncpkg "github.com/syncd-project/syncd/internal/sync"
)

// Side identifies which root a SyncState row describes.
type Side string

const (
	SideSource Side = "source"
	SideDest   Side = "dest"
)

// Store persists per-path, per-side state from the prior successful bisync
// run, keyed by (path, side). Grounded on original_source/src/bisync/state.rs
// BisyncStateDb, reimplemented over the module's own goose-migrated sqlite
// store (internal/sync.OpenBisyncStateDB) instead of rusqlite.
type Store struct {
	db *sql.DB

	getStmt    *sql.Stmt
	putStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	allStmt    *sql.Stmt

	conflictInsertStmt *sql.Stmt
}

// OpenStore opens (creating if necessary) the bisync state database at
// dbPath.
func OpenStore(ctx context.Context, dbPath string) (*Store, error) {
	db, err := syncpkg.OpenBisyncStateDB(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) prepare() error {
	var err error

	if s.getStmt, err = s.db.Prepare(`SELECT mtime_unix, size, checksum, last_synced_at FROM sync_state WHERE path = ? AND side = ?`); err != nil {
		return fmt.Errorf("bisync: preparing get: %w", err)
	}

	if s.putStmt, err = s.db.Prepare(`
		INSERT INTO sync_state (path, side, mtime_unix, size, checksum, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path, side) DO UPDATE SET
			mtime_unix = excluded.mtime_unix,
			size = excluded.size,
			checksum = excluded.checksum,
			last_synced_at = excluded.last_synced_at
	`); err != nil {
		return fmt.Errorf("bisync: preparing put: %w", err)
	}

	if s.deleteStmt, err = s.db.Prepare(`DELETE FROM sync_state WHERE path = ? AND side = ?`); err != nil {
		return fmt.Errorf("bisync: preparing delete: %w", err)
	}

	if s.allStmt, err = s.db.Prepare(`SELECT path, side, mtime_unix, size, checksum, last_synced_at FROM sync_state`); err != nil {
		return fmt.Errorf("bisync: preparing all: %w", err)
	}

	if s.conflictInsertStmt, err = s.db.Prepare(`
		INSERT INTO conflicts (id, path, resolution, source_conflict_as, dest_conflict_as, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`); err != nil {
		return fmt.Errorf("bisync: preparing conflict insert: %w", err)
	}

	return nil
}

// Get returns the prior state for (path, side), and whether a row existed.
func (s *Store) Get(ctx context.Context, path string, side Side) (syncpkg.SyncState, bool, error) {
	var (
		mtimeUnix, lastSyncedUnix int64
		size                      int64
		checksum                  sql.NullString
	)

	err := s.getStmt.QueryRowContext(ctx, path, string(side)).Scan(&mtimeUnix, &size, &checksum, &lastSyncedUnix)
	if err == sql.ErrNoRows {
		return syncpkg.SyncState{}, false, nil
	}

	if err != nil {
		return syncpkg.SyncState{}, false, fmt.Errorf("bisync: get %q/%s: %w", path, side, err)
	}

	return syncpkg.SyncState{
		Path:         path,
		Side:         string(side),
		Mtime:        time.Unix(mtimeUnix, 0).UTC(),
		Size:         size,
		Checksum:     checksum.String,
		LastSyncedAt: time.Unix(lastSyncedUnix, 0).UTC(),
	}, true, nil
}

// Put records (or replaces) state for (path, side).
func (s *Store) Put(ctx context.Context, state syncpkg.SyncState) error {
	if _, err := s.putStmt.ExecContext(ctx, state.Path, state.Side, state.Mtime.Unix(), state.Size, state.Checksum, state.LastSyncedAt.Unix()); err != nil {
		return fmt.Errorf("bisync: put %q/%s: %w", state.Path, state.Side, err)
	}

	return nil
}

// Delete removes the prior state for (path, side). The engine's persistState
// calls it for paths that are absent on both sides after the run.
func (s *Store) Delete(ctx context.Context, path string, side Side) error {
	if _, err := s.deleteStmt.ExecContext(ctx, path, string(side)); err != nil {
		return fmt.Errorf("bisync: delete %q/%s: %w", path, side, err)
	}

	return nil
}

// All returns every recorded prior-state row, keyed by path then side.
func (s *Store) All(ctx context.Context) (map[string]map[Side]syncpkg.SyncState, error) {
	rows, err := s.allStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("bisync: listing all state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[Side]syncpkg.SyncState)

	for rows.Next() {
		var (
			path, side                string
			mtimeUnix, lastSyncedUnix int64
			size                      int64
			checksum                  sql.NullString
		)

		if err := rows.Scan(&path, &side, &mtimeUnix, &size, &checksum, &lastSyncedUnix); err != nil {
			return nil, fmt.Errorf("bisync: scanning state row: %w", err)
		}

		if out[path] == nil {
			out[path] = make(map[Side]syncpkg.SyncState)
		}

		out[path][Side(side)] = syncpkg.SyncState{
			Path:         path,
			Side:         side,
			Mtime:        time.Unix(mtimeUnix, 0).UTC(),
			Size:         size,
			Checksum:     checksum.String,
			LastSyncedAt: time.Unix(lastSyncedUnix, 0).UTC(),
		}
	}

	return out, nil
}

// RecordConflict logs a resolved conflict for audit/reporting.
func (s *Store) RecordConflict(ctx context.Context, id, path, resolution, sourceConflictAs, destConflictAs string, resolvedAt time.Time) error {
	if _, err := s.conflictInsertStmt.ExecContext(ctx, id, path, resolution, sourceConflictAs, destConflictAs, resolvedAt.Unix()); err != nil {
		return fmt.Errorf("bisync: recording conflict for %q: %w", path, err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("bisync: close: %w", err)
	}

	return nil
}
