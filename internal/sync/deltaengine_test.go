package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncd-project/syncd/internal/sync/transport"
)

func TestDeltaEngineFullCopyWhenDestAbsent(t *testing.T) {
	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("hello"), 0o644))

	dual := &transport.Dual{Src: transport.NewLocal(srcRoot), Dst: transport.NewLocal(dstRoot)}
	engine := NewDeltaEngine(dual, DeltaEngineConfig{}, discardLogger())

	result, err := engine.Transfer(context.Background(), "a.txt", "a.txt", false, 0)
	require.NoError(t, err)
	require.False(t, result.UsedDelta)
	require.Equal(t, int64(5), result.BytesWritten)

	data, err := os.ReadFile(filepath.Join(dstRoot, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestDeltaEngineLocalToLocalSkipsDelta(t *testing.T) {
	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	content := make([]byte, 20000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "big.bin"), content, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "big.bin"), content, 0o644))

	dual := &transport.Dual{Src: transport.NewLocal(srcRoot), Dst: transport.NewLocal(dstRoot)}
	engine := NewDeltaEngine(dual, DeltaEngineConfig{LocalToLocal: true}, discardLogger())

	result, err := engine.Transfer(context.Background(), "big.bin", "big.bin", true, int64(len(content)))
	require.NoError(t, err)
	require.False(t, result.UsedDelta)
}

func TestDeltaEngineUsesDeltaWhenForced(t *testing.T) {
	srcRoot, dstRoot := t.TempDir(), t.TempDir()

	base := make([]byte, 20000)
	for i := range base {
		base[i] = byte(i % 97)
	}

	modified := append([]byte(nil), base...)
	for i := 10000; i < 10100; i++ {
		modified[i] ^= 0xFF
	}

	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "f.bin"), base, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "f.bin"), modified, 0o644))

	dual := &transport.Dual{Src: transport.NewLocal(srcRoot), Dst: transport.NewLocal(dstRoot)}
	engine := NewDeltaEngine(dual, DeltaEngineConfig{LocalToLocal: true, ForceLocalDelta: true}, discardLogger())

	result, err := engine.Transfer(context.Background(), "f.bin", "f.bin", true, int64(len(base)))
	require.NoError(t, err)
	require.True(t, result.UsedDelta)

	got, err := os.ReadFile(filepath.Join(dstRoot, "f.bin"))
	require.NoError(t, err)
	require.Equal(t, modified, got)
}
