package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncd-project/syncd/internal/sync/transport"
)

func TestVerifierFastMatch(t *testing.T) {
	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("same content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "a.txt"), []byte("same content"), 0o644))

	dual := &transport.Dual{Src: transport.NewLocal(srcRoot), Dst: transport.NewLocal(dstRoot)}
	v := NewVerifier(dual, HashFast)

	result, err := v.Verify(context.Background(), "a.txt")
	require.NoError(t, err)
	require.True(t, result.Match)
}

func TestVerifierFastMismatch(t *testing.T) {
	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "a.txt"), []byte("two"), 0o644))

	dual := &transport.Dual{Src: transport.NewLocal(srcRoot), Dst: transport.NewLocal(dstRoot)}
	v := NewVerifier(dual, HashFast)

	result, err := v.Verify(context.Background(), "a.txt")
	require.NoError(t, err)
	require.False(t, result.Match)
}

func TestVerifierCryptographicMatch(t *testing.T) {
	srcRoot, dstRoot := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "a.txt"), []byte("payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "a.txt"), []byte("payload"), 0o644))

	dual := &transport.Dual{Src: transport.NewLocal(srcRoot), Dst: transport.NewLocal(dstRoot)}
	v := NewVerifier(dual, HashCryptographic)

	result, err := v.Verify(context.Background(), "a.txt")
	require.NoError(t, err)
	require.True(t, result.Match)
	require.Len(t, result.SourceHash, 64)
}
