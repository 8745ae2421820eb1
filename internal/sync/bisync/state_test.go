package bisync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	syncpkg "github.com/syncd-project/syncd/internal/sync"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	s, err := OpenStore(context.Background(), filepath.Join(dir, "state.db"))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestStorePutAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.Put(ctx, syncpkg.SyncState{
		Path: "a.txt", Side: string(SideSource), Size: 10, Mtime: now, Checksum: "abc", LastSyncedAt: now,
	}))

	got, ok, err := s.Get(ctx, "a.txt", SideSource)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), got.Size)
	require.Equal(t, "abc", got.Checksum)
}

func TestStoreGetMissing(t *testing.T) {
	_, ok, err := newTestStore(t).Get(context.Background(), "missing.txt", SideDest)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStorePutUpsertsOnConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.Put(ctx, syncpkg.SyncState{Path: "a.txt", Side: string(SideSource), Size: 10, Mtime: now}))
	require.NoError(t, s.Put(ctx, syncpkg.SyncState{Path: "a.txt", Side: string(SideSource), Size: 20, Mtime: now}))

	got, ok, err := s.Get(ctx, "a.txt", SideSource)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(20), got.Size)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, syncpkg.SyncState{Path: "a.txt", Side: string(SideSource), Size: 10}))
	require.NoError(t, s.Delete(ctx, "a.txt", SideSource))

	_, ok, err := s.Get(ctx, "a.txt", SideSource)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.Put(ctx, syncpkg.SyncState{Path: "a.txt", Side: string(SideSource), Size: 10, Mtime: now}))
	require.NoError(t, s.Put(ctx, syncpkg.SyncState{Path: "a.txt", Side: string(SideDest), Size: 10, Mtime: now}))
	require.NoError(t, s.Put(ctx, syncpkg.SyncState{Path: "b.txt", Side: string(SideSource), Size: 5, Mtime: now}))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Len(t, all["a.txt"], 2)
	require.Len(t, all["b.txt"], 1)
}

func TestStoreRecordConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.RecordConflict(ctx, "id1", "a.txt", "newer-wins", "", "", time.Now())
	require.NoError(t, err)
}
