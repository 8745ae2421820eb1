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

func TestPlannerCreateWhenAbsent(t *testing.T) {
	dstRoot := t.TempDir()
	dst := transport.NewLocal(dstRoot)

	p := NewPlanner(PlannerConfig{}, dst, discardLogger())

	source := []FileEntry{{Path: "a.txt", Type: ItemTypeFile, Size: 10, Mtime: time.Now()}}

	actions, err := p.Plan(context.Background(), source)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionCreate, actions[0].Type)
}

func TestPlannerSkipWhenUnchanged(t *testing.T) {
	dstRoot := t.TempDir()
	dst := transport.NewLocal(dstRoot)

	mtime := time.Now().Truncate(time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "a.txt"), []byte("0123456789"), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(dstRoot, "a.txt"), mtime, mtime))

	p := NewPlanner(PlannerConfig{}, dst, discardLogger())

	source := []FileEntry{{Path: "a.txt", Type: ItemTypeFile, Size: 10, Mtime: mtime}}

	actions, err := p.Plan(context.Background(), source)
	require.NoError(t, err)
	require.Equal(t, ActionSkip, actions[0].Type)
}

func TestPlannerUpdateWhenSizeDiffers(t *testing.T) {
	dstRoot := t.TempDir()
	dst := transport.NewLocal(dstRoot)

	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "a.txt"), []byte("short"), 0o644))

	p := NewPlanner(PlannerConfig{}, dst, discardLogger())

	source := []FileEntry{{Path: "a.txt", Type: ItemTypeFile, Size: 999, Mtime: time.Now()}}

	actions, err := p.Plan(context.Background(), source)
	require.NoError(t, err)
	require.Equal(t, ActionUpdate, actions[0].Type)
}

func TestPlannerSizeOnlyIgnoresMtime(t *testing.T) {
	dstRoot := t.TempDir()
	dst := transport.NewLocal(dstRoot)

	oldMtime := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "a.txt"), []byte("0123456789"), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(dstRoot, "a.txt"), oldMtime, oldMtime))

	p := NewPlanner(PlannerConfig{Comparison: ComparisonSizeOnly}, dst, discardLogger())

	source := []FileEntry{{Path: "a.txt", Type: ItemTypeFile, Size: 10, Mtime: time.Now()}}

	actions, err := p.Plan(context.Background(), source)
	require.NoError(t, err)
	require.Equal(t, ActionSkip, actions[0].Type)
}

func TestPlannerChecksumPolicyAlwaysUpdates(t *testing.T) {
	dstRoot := t.TempDir()
	dst := transport.NewLocal(dstRoot)

	mtime := time.Now().Truncate(time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "a.txt"), []byte("0123456789"), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(dstRoot, "a.txt"), mtime, mtime))

	p := NewPlanner(PlannerConfig{Comparison: ComparisonChecksum}, dst, discardLogger())

	source := []FileEntry{{Path: "a.txt", Type: ItemTypeFile, Size: 10, Mtime: mtime}}

	actions, err := p.Plan(context.Background(), source)
	require.NoError(t, err)
	require.Equal(t, ActionUpdate, actions[0].Type)
}

func TestPlannerMirrorDeletesMissingFromSource(t *testing.T) {
	dstRoot := t.TempDir()
	dst := transport.NewLocal(dstRoot)

	require.NoError(t, os.WriteFile(filepath.Join(dstRoot, "stale.txt"), []byte("x"), 0o644))

	p := NewPlanner(PlannerConfig{Mirror: true}, dst, discardLogger())

	actions, err := p.Plan(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, ActionDelete, actions[0].Type)
	require.Equal(t, "stale.txt", actions[0].Path)
}

func TestPlannerHardlinksSecondFileSharingInode(t *testing.T) {
	dstRoot := t.TempDir()
	dst := transport.NewLocal(dstRoot)

	p := NewPlanner(PlannerConfig{PreserveHardlinks: true}, dst, discardLogger())

	source := []FileEntry{
		{Path: "a.txt", Type: ItemTypeFile, Size: 10, Mtime: time.Now(), HasInode: true, Inode: 42, LinkCount: 2},
		{Path: "b.txt", Type: ItemTypeFile, Size: 10, Mtime: time.Now(), HasInode: true, Inode: 42, LinkCount: 2},
	}

	actions, err := p.Plan(context.Background(), source)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	require.Empty(t, actions[0].HardlinkTo)
	require.Equal(t, "a.txt", actions[1].HardlinkTo)
	require.Equal(t, ActionCreate, actions[1].Type)
}

func TestPlannerIgnoresHardlinksWhenDisabled(t *testing.T) {
	dstRoot := t.TempDir()
	dst := transport.NewLocal(dstRoot)

	p := NewPlanner(PlannerConfig{}, dst, discardLogger())

	source := []FileEntry{
		{Path: "a.txt", Type: ItemTypeFile, Size: 10, Mtime: time.Now(), HasInode: true, Inode: 42, LinkCount: 2},
		{Path: "b.txt", Type: ItemTypeFile, Size: 10, Mtime: time.Now(), HasInode: true, Inode: 42, LinkCount: 2},
	}

	actions, err := p.Plan(context.Background(), source)
	require.NoError(t, err)
	require.Empty(t, actions[0].HardlinkTo)
	require.Empty(t, actions[1].HardlinkTo)
}

func TestPlannerDirectoryCreateAndSkip(t *testing.T) {
	dstRoot := t.TempDir()
	dst := transport.NewLocal(dstRoot)

	require.NoError(t, os.MkdirAll(filepath.Join(dstRoot, "existing"), 0o755))

	p := NewPlanner(PlannerConfig{}, dst, discardLogger())

	source := []FileEntry{
		{Path: "existing", Type: ItemTypeDir},
		{Path: "newdir", Type: ItemTypeDir},
	}

	actions, err := p.Plan(context.Background(), source)
	require.NoError(t, err)
	require.Equal(t, ActionSkip, actions[0].Type)
	require.Equal(t, ActionCreate, actions[1].Type)
}
