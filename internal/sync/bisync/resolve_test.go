package bisync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	syncpkg "github.com/syncd-project/syncd/internal/sync"
)

func conflictChange(t *testing.T, changeType syncpkg.ChangeType, sourceMtime, destMtime time.Time) Change {
	t.Helper()

	return Change{
		Path:       "report.csv",
		Type:       changeType,
		SourceSide: &syncpkg.FileEntry{Path: "report.csv", Size: 10, Mtime: sourceMtime},
		DestSide:   &syncpkg.FileEntry{Path: "report.csv", Size: 20, Mtime: destMtime},
	}
}

func TestResolveNewerWinsPicksNewerSide(t *testing.T) {
	now := time.Now()
	c := conflictChange(t, syncpkg.ChangeCreateCreateConflict, now.Add(time.Hour), now)

	r, err := Resolve(c, PolicyNewerWins, now)
	require.NoError(t, err)
	require.True(t, r.KeepSource)
	require.False(t, r.KeepDest)
}

func TestResolveSourceWins(t *testing.T) {
	now := time.Now()
	c := conflictChange(t, syncpkg.ChangeCreateCreateConflict, now, now.Add(time.Hour))

	r, err := Resolve(c, PolicySourceWins, now)
	require.NoError(t, err)
	require.True(t, r.KeepSource)
	require.False(t, r.KeepDest)
}

func TestResolveDestWins(t *testing.T) {
	now := time.Now()
	c := conflictChange(t, syncpkg.ChangeCreateCreateConflict, now, now)

	r, err := Resolve(c, PolicyDestWins, now)
	require.NoError(t, err)
	require.True(t, r.KeepDest)
	require.False(t, r.KeepSource)
}

func TestResolveRenameBothProducesDistinctNames(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := conflictChange(t, syncpkg.ChangeCreateCreateConflict, now, now)

	r, err := Resolve(c, PolicyRenameBoth, now)
	require.NoError(t, err)
	require.True(t, r.KeepSource)
	require.True(t, r.KeepDest)
	require.Equal(t, "report.source.20260731T120000Z.csv", r.RenameSourceAs)
	require.Equal(t, "report.dest.20260731T120000Z.csv", r.RenameDestAs)
}

func TestResolveModifyDeleteKeepsModifiedSide(t *testing.T) {
	now := time.Now()
	c := Change{Path: "a.txt", Type: syncpkg.ChangeModifyDeleteConflict, SourceSide: &syncpkg.FileEntry{Path: "a.txt", Size: 10, Mtime: now}}

	r, err := Resolve(c, PolicyNewerWins, now)
	require.NoError(t, err)
	require.True(t, r.KeepSource)
}

func TestResolveRejectsNonConflictType(t *testing.T) {
	c := Change{Path: "a.txt", Type: syncpkg.ChangeNewInSource}

	_, err := Resolve(c, PolicyNewerWins, time.Now())
	require.Error(t, err)
}
