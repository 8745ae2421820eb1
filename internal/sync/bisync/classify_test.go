package bisync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	syncpkg "github.com/syncd-project/syncd/internal/sync"
)

func entry(size int64, mtime time.Time) *syncpkg.FileEntry {
	return &syncpkg.FileEntry{Size: size, Mtime: mtime, Type: syncpkg.ItemTypeFile}
}

func state(size int64, mtime time.Time) *syncpkg.SyncState {
	return &syncpkg.SyncState{Size: size, Mtime: mtime}
}

func TestClassifyNewInSource(t *testing.T) {
	now := time.Now()
	c := Classify("a.txt", entry(10, now), nil, nil, nil)
	require.Equal(t, syncpkg.ChangeNewInSource, c.Type)
}

func TestClassifyNewInDest(t *testing.T) {
	now := time.Now()
	c := Classify("a.txt", nil, entry(10, now), nil, nil)
	require.Equal(t, syncpkg.ChangeNewInDest, c.Type)
}

func TestClassifyUnchangedNoBaseline(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	c := Classify("a.txt", entry(10, now), entry(10, now), nil, nil)
	require.Equal(t, syncpkg.ChangeNone, c.Type)
}

func TestClassifyCreateCreateConflict(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	c := Classify("a.txt", entry(10, now), entry(20, now), nil, nil)
	require.Equal(t, syncpkg.ChangeCreateCreateConflict, c.Type)
}

func TestClassifyUnchangedWithBaseline(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	c := Classify("a.txt", entry(10, now), entry(10, now), state(10, now), state(10, now))
	require.Equal(t, syncpkg.ChangeNone, c.Type)
}

func TestClassifyModifiedInSource(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	later := now.Add(time.Hour)
	c := Classify("a.txt", entry(20, later), entry(10, now), state(10, now), state(10, now))
	require.Equal(t, syncpkg.ChangeModifiedInSource, c.Type)
}

func TestClassifyModifiedInDest(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	later := now.Add(time.Hour)
	c := Classify("a.txt", entry(10, now), entry(20, later), state(10, now), state(10, now))
	require.Equal(t, syncpkg.ChangeModifiedInDest, c.Type)
}

func TestClassifyModifiedBoth(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	later := now.Add(time.Hour)
	c := Classify("a.txt", entry(20, later), entry(30, later), state(10, now), state(10, now))
	require.Equal(t, syncpkg.ChangeModifiedBoth, c.Type)
}

func TestClassifyDeletedFromDest(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	c := Classify("a.txt", entry(10, now), nil, state(10, now), state(10, now))
	require.Equal(t, syncpkg.ChangeDeletedFromDest, c.Type)
}

func TestClassifyDeletedFromSource(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	c := Classify("a.txt", nil, entry(10, now), state(10, now), state(10, now))
	require.Equal(t, syncpkg.ChangeDeletedFromSource, c.Type)
}

func TestClassifyModifyDeleteConflict(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	later := now.Add(time.Hour)
	c := Classify("a.txt", entry(20, later), nil, state(10, now), nil)
	require.Equal(t, syncpkg.ChangeModifyDeleteConflict, c.Type)
}

func TestClassifyBothAbsentIsNone(t *testing.T) {
	c := Classify("a.txt", nil, nil, nil, nil)
	require.Equal(t, syncpkg.ChangeNone, c.Type)
}
