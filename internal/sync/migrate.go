package sync

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/checksumcache/*.sql
var checksumCacheMigrations embed.FS

//go:embed migrations/bisyncstate/*.sql
var bisyncStateMigrations embed.FS

// runMigrations applies every pending goose migration under subdir within
// migrationsFS to db. Grounded on the teacher's internal/sync/migrations.go
// goose.NewProvider + embed.FS pattern, which this module uses for both of
// its SQLite-backed stores (ChecksumCache, BisyncState) rather than the
// teacher's own ad hoc PRAGMA user_version variant found alongside it.
func runMigrations(ctx context.Context, db *sql.DB, migrationsFS embed.FS, subdir string) error {
	sub, err := fs.Sub(migrationsFS, subdir)
	if err != nil {
		return fmt.Errorf("sync: migrations: subdir %q: %w", subdir, err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("sync: migrations: creating provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("sync: migrations: applying: %w", err)
	}

	return nil
}

// OpenBisyncStateDB opens (creating if necessary) the sqlite database at
// dbPath and applies the bisyncstate migrations, for use by the bisync
// subpackage's Store.
func OpenBisyncStateDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sync: opening bisync state db %q: %w", dbPath, err)
	}

	if err := setPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, bisyncStateMigrations, "migrations/bisyncstate"); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
