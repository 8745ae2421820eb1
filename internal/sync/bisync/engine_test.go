package bisync

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	syncpkg "github.com/syncd-project/syncd/internal/sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineSyncPropagatesNewFileBothWays(t *testing.T) {
	ctx := context.Background()
	sourceRoot, destRoot := t.TempDir(), t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "new-in-source.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(destRoot, "new-in-dest.txt"), []byte("world"), 0o644))

	store, err := OpenStore(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	eng := NewEngine(Config{
		SourceRoot:  sourceRoot,
		DestRoot:    destRoot,
		Concurrency: 2,
		Policy:      PolicyNewerWins,
	}, store, discardLogger())

	result, err := eng.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, result.Changes, 2)

	_, err = os.Stat(filepath.Join(destRoot, "new-in-source.txt"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(sourceRoot, "new-in-dest.txt"))
	require.NoError(t, err)
}

func TestEngineSyncDryRunMakesNoChanges(t *testing.T) {
	ctx := context.Background()
	sourceRoot, destRoot := t.TempDir(), t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	require.NoError(t, os.WriteFile(filepath.Join(sourceRoot, "a.txt"), []byte("hello"), 0o644))

	store, err := OpenStore(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	eng := NewEngine(Config{
		SourceRoot: sourceRoot,
		DestRoot:   destRoot,
		DryRun:     true,
	}, store, discardLogger())

	result, err := eng.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)

	_, err = os.Stat(filepath.Join(destRoot, "a.txt"))
	require.Error(t, err)
}

func TestEngineSyncDeletionGuardTrips(t *testing.T) {
	ctx := context.Background()
	sourceRoot, destRoot := t.TempDir(), t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenStore(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	sourcePath := filepath.Join(sourceRoot, "gone.txt")
	require.NoError(t, os.WriteFile(sourcePath, []byte("0123456789"), 0o644))

	info, err := os.Stat(sourcePath)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, syncpkg.SyncState{Path: "gone.txt", Side: string(SideSource), Size: info.Size(), Mtime: info.ModTime()}))
	require.NoError(t, store.Put(ctx, syncpkg.SyncState{Path: "gone.txt", Side: string(SideDest), Size: info.Size(), Mtime: info.ModTime()}))

	eng := NewEngine(Config{
		SourceRoot:         sourceRoot,
		DestRoot:           destRoot,
		MaxDeletionPercent: 10,
	}, store, discardLogger())

	_, err = eng.Sync(ctx)
	require.Error(t, err)
}
