package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syncd-project/syncd/internal/sync/transport"
)

func setupExecutorDirs(t *testing.T) (srcRoot, dstRoot string) {
	t.Helper()

	srcRoot = t.TempDir()
	dstRoot = t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(srcRoot, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "sub", "b.txt"), []byte("nested"), 0o644))

	return srcRoot, dstRoot
}

func TestExecutorRunCreatesFilesAndDirs(t *testing.T) {
	ctx := context.Background()
	srcRoot, dstRoot := setupExecutorDirs(t)

	dual := &transport.Dual{Src: transport.NewLocal(srcRoot), Dst: transport.NewLocal(dstRoot)}

	engine := NewDeltaEngine(dual, DeltaEngineConfig{LocalToLocal: true}, discardLogger())
	stats := &RunStats{}
	exec := NewExecutor(ExecutorConfig{Concurrency: 4}, engine, dual, nil, stats, discardLogger())

	plan := []SyncAction{
		{Type: ActionCreate, Path: "sub", Source: &FileEntry{Path: "sub", Type: ItemTypeDir}},
		{Type: ActionCreate, Path: "a.txt", Source: &FileEntry{Path: "a.txt", Type: ItemTypeFile, Size: 11, Mtime: time.Now()}},
		{Type: ActionCreate, Path: "sub/b.txt", Source: &FileEntry{Path: "sub/b.txt", Type: ItemTypeFile, Size: 6, Mtime: time.Now()}},
	}

	err := exec.Run(ctx, plan)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dstRoot, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	data, err = os.ReadFile(filepath.Join(dstRoot, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "nested", string(data))

	require.Equal(t, int64(2), stats.Created.Load())
}

func TestExecutorRunSkipAndDelete(t *testing.T) {
	ctx := context.Background()
	_, dstRoot := setupExecutorDirs(t)

	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "stale.txt"), []byte("x"), 0o644))

	dstT := transport.NewLocal(dstRoot)
	engine := NewDeltaEngine(dstT, DeltaEngineConfig{LocalToLocal: true}, discardLogger())
	stats := &RunStats{}
	exec := NewExecutor(ExecutorConfig{Concurrency: 2}, engine, dstT, nil, stats, discardLogger())

	plan := []SyncAction{
		{Type: ActionSkip, Path: "a.txt"},
		{Type: ActionDelete, Path: "stale.txt"},
	}

	err := exec.Run(ctx, plan)
	require.NoError(t, err)

	require.Equal(t, int64(1), stats.Skipped.Load())
	require.Equal(t, int64(1), stats.Deleted.Load())

	_, statErr := os.Stat(filepath.Join(dstRoot, "stale.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestExecutorCheckpointsJournal(t *testing.T) {
	ctx := context.Background()
	srcRoot, dstRoot := setupExecutorDirs(t)

	dual := &transport.Dual{Src: transport.NewLocal(srcRoot), Dst: transport.NewLocal(dstRoot)}

	engine := NewDeltaEngine(dual, DeltaEngineConfig{LocalToLocal: true}, discardLogger())
	stats := &RunStats{}
	journal := LoadJournal(dstRoot, srcRoot, "fp", discardLogger())
	exec := NewExecutor(ExecutorConfig{Concurrency: 2, CheckpointFiles: 1}, engine, dual, journal, stats, discardLogger())

	plan := []SyncAction{
		{Type: ActionCreate, Path: "a.txt", Source: &FileEntry{Path: "a.txt", Type: ItemTypeFile, Size: 11, Mtime: time.Now()}},
	}

	require.NoError(t, exec.Run(ctx, plan))
	require.True(t, journal.IsCompleted("a.txt"))

	_, err := os.Stat(filepath.Join(dstRoot, journalFileName))
	require.NoError(t, err)
}

func TestExecutorCreatesHardlinkInsteadOfCopying(t *testing.T) {
	ctx := context.Background()
	srcRoot, dstRoot := setupExecutorDirs(t)

	dual := &transport.Dual{Src: transport.NewLocal(srcRoot), Dst: transport.NewLocal(dstRoot)}

	engine := NewDeltaEngine(dual, DeltaEngineConfig{LocalToLocal: true}, discardLogger())
	stats := &RunStats{}
	exec := NewExecutor(ExecutorConfig{Concurrency: 2}, engine, dual, nil, stats, discardLogger())

	plan := []SyncAction{
		{Type: ActionCreate, Path: "a.txt", Source: &FileEntry{Path: "a.txt", Type: ItemTypeFile, Size: 11, Mtime: time.Now()}},
		{Type: ActionCreate, Path: "a-link.txt", Source: &FileEntry{Path: "a-link.txt", Type: ItemTypeFile, Size: 11, Mtime: time.Now()}, HardlinkTo: "a.txt"},
	}

	require.NoError(t, exec.Run(ctx, plan))

	srcInfo, err := os.Stat(filepath.Join(dstRoot, "a.txt"))
	require.NoError(t, err)

	linkInfo, err := os.Stat(filepath.Join(dstRoot, "a-link.txt"))
	require.NoError(t, err)

	require.True(t, os.SameFile(srcInfo, linkInfo))
	require.Equal(t, int64(2), stats.Created.Load())
}
