package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalCopyFileAtomic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0o644))

	l := NewLocal(dir)
	ctx := context.Background()

	n, digest, err := l.CopyFile(ctx, "a.txt", "sub/b.txt")
	require.NoError(t, err)
	require.Equal(t, int64(len("hello world")), n)
	require.NotEmpty(t, digest)

	_, err = os.Stat(filepath.Join(dir, "sub", "b.txt.partial"))
	require.True(t, os.IsNotExist(err))

	got, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestLocalChecksumsAndApplyDelta(t *testing.T) {
	dir := t.TempDir()
	base := "old content, unchanged prefix, then something different at the tail here"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte(base), 0o644))

	l := NewLocal(dir)
	ctx := context.Background()

	table, err := l.Checksums(ctx, "f.txt", 16)
	require.NoError(t, err)
	require.NotEmpty(t, table)

	newContent := base[:40] + "REPLACED TAIL CONTENT"
	ops := []DeltaOp{
		{Copy: true, Offset: table[0].Offset, Size: int64(table[0].Size)},
		{Literal: []byte(newContent[table[0].Size:])},
	}

	result, err := l.ApplyDelta(ctx, "f.txt", ops)
	require.NoError(t, err)
	require.Equal(t, 2, result.OperationsCount)

	got, err := os.ReadFile(filepath.Join(dir, "f.txt"))
	require.NoError(t, err)
	require.Equal(t, newContent, string(got))
}

func TestLocalListAndRemove(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "d"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d", "x.txt"), []byte("x"), 0o644))

	l := NewLocal(dir)
	ctx := context.Background()

	entries, err := l.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, l.Remove(ctx, "d/x.txt"))

	_, err = l.Read(ctx, "d/x.txt")
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist, "wrapped error should unwrap to os.ErrNotExist")
}
