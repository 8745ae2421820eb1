package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterExcludeGlob(t *testing.T) {
	dir := t.TempDir()
	f := NewFilter(dir, FilterConfig{Exclude: []string{"*.tmp"}})

	require.False(t, f.Allow("build.tmp", false, 10))
	require.True(t, f.Allow("build.txt", false, 10))
}

func TestFilterSizeBounds(t *testing.T) {
	dir := t.TempDir()
	f := NewFilter(dir, FilterConfig{MinSize: 100, MaxSize: 1000})

	require.False(t, f.Allow("small.bin", false, 10))
	require.False(t, f.Allow("huge.bin", false, 10000))
	require.True(t, f.Allow("ok.bin", false, 500))
}

func TestFilterSkipDotfiles(t *testing.T) {
	dir := t.TempDir()
	f := NewFilter(dir, FilterConfig{SkipDotfiles: true})

	require.False(t, f.Allow(".hidden", false, 1))
	require.True(t, f.Allow("visible", false, 1))
}

func TestFilterIgnoreMarker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".syncignore"), []byte("# comment\nsecret.txt\n"), 0o644))

	f := NewFilter(dir, FilterConfig{})

	require.False(t, f.Allow("secret.txt", false, 1))
	require.True(t, f.Allow("public.txt", false, 1))
}

func TestFilterIgnoreMarkerAbsent(t *testing.T) {
	dir := t.TempDir()
	f := NewFilter(dir, FilterConfig{})

	require.True(t, f.Allow("anything.txt", false, 1))
}
