package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestChecksumCache(t *testing.T) *ChecksumCache {
	t.Helper()

	dir := t.TempDir()
	c, err := NewChecksumCache(context.Background(), filepath.Join(dir, "checksums.db"))
	require.NoError(t, err)

	t.Cleanup(func() { c.Close() })

	return c
}

func TestChecksumCachePutAndLookup(t *testing.T) {
	ctx := context.Background()
	c := newTestChecksumCache(t)

	entry := ChecksumEntry{MtimeUnix: 100, Size: 50, Kind: "xxh64", Digest: "abc123", UpdatedAt: 200}
	require.NoError(t, c.Put(ctx, "a.txt", entry))

	got, ok, err := c.Lookup(ctx, "a.txt", 100, 50, "xxh64")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry.Digest, got.Digest)
}

func TestChecksumCacheLookupMissOnMtimeChange(t *testing.T) {
	ctx := context.Background()
	c := newTestChecksumCache(t)

	require.NoError(t, c.Put(ctx, "a.txt", ChecksumEntry{MtimeUnix: 100, Size: 50, Kind: "xxh64", Digest: "abc"}))

	_, ok, err := c.Lookup(ctx, "a.txt", 999, 50, "xxh64")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestChecksumCachePrune(t *testing.T) {
	ctx := context.Background()
	c := newTestChecksumCache(t)

	require.NoError(t, c.Put(ctx, "keep.txt", ChecksumEntry{MtimeUnix: 1, Size: 1, Kind: "xxh64", Digest: "k"}))
	require.NoError(t, c.Put(ctx, "gone.txt", ChecksumEntry{MtimeUnix: 1, Size: 1, Kind: "xxh64", Digest: "g"}))

	removed, err := c.Prune(ctx, map[string]bool{"keep.txt": true})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok, err := c.Lookup(ctx, "gone.txt", 1, 1, "xxh64")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.Lookup(ctx, "keep.txt", 1, 1, "xxh64")
	require.NoError(t, err)
	require.True(t, ok)
}
