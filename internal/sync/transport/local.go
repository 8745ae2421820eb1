package transport

import (
	"context"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/syncd-project/syncd/internal/sync/deltacodec"
)

// Local implements Transport against the ordinary filesystem. All paths
// passed to its methods are joined onto root.
type Local struct {
	root string
}

// NewLocal returns a Local transport rooted at root.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) abs(path string) string {
	return filepath.Join(l.root, path)
}

func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Lstat(l.abs(path))
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("transport: local exists %q: %w", path, err)
}

func (l *Local) StatPath(_ context.Context, path string) (Stat, error) {
	return statLocal(l.abs(path), path)
}

func statLocal(abs, relPath string) (Stat, error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return Stat{}, fmt.Errorf("transport: local stat %q: %w", relPath, err)
	}

	st := Stat{
		Path:  relPath,
		Size:  info.Size(),
		Mtime: info.ModTime(),
		IsDir: info.IsDir(),
	}

	if info.Mode()&os.ModeSymlink != 0 {
		st.IsSymlink = true

		target, err := os.Readlink(abs)
		if err == nil {
			st.LinkDest = target
		}
	}

	return st, nil
}

func (l *Local) List(_ context.Context, path string) ([]Stat, error) {
	root := l.abs(path)

	var out []Stat

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if p == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		st := Stat{Path: rel, Size: info.Size(), Mtime: info.ModTime(), IsDir: d.IsDir()}
		if info.Mode()&os.ModeSymlink != 0 {
			st.IsSymlink = true

			if target, err := os.Readlink(p); err == nil {
				st.LinkDest = target
			}
		}

		out = append(out, st)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transport: local list %q: %w", path, err)
	}

	return out, nil
}

func (l *Local) CreateDirAll(_ context.Context, path string) error {
	if err := os.MkdirAll(l.abs(path), 0o755); err != nil {
		return fmt.Errorf("transport: local mkdir %q: %w", path, err)
	}

	return nil
}

func (l *Local) Read(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(l.abs(path))
	if err != nil {
		return nil, fmt.Errorf("transport: local read %q: %w", path, err)
	}

	return f, nil
}

func (l *Local) Write(_ context.Context, path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(l.abs(path)), 0o755); err != nil {
		return nil, fmt.Errorf("transport: local write %q: creating parent: %w", path, err)
	}

	f, err := os.Create(l.abs(path))
	if err != nil {
		return nil, fmt.Errorf("transport: local write %q: %w", path, err)
	}

	return f, nil
}

// CopyFile streams src to dst via a temp-file-then-rename sequence, so a
// reader never observes a partially written dst. Grounded on the teacher's
// TransferManager.DownloadToFile atomic-rename pattern.
func (l *Local) CopyFile(_ context.Context, src, dst string) (int64, string, error) {
	in, err := os.Open(l.abs(src))
	if err != nil {
		return 0, "", fmt.Errorf("transport: local copy %q: opening source: %w", src, err)
	}
	defer in.Close()

	dstAbs := l.abs(dst)
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return 0, "", fmt.Errorf("transport: local copy %q: creating parent: %w", dst, err)
	}

	partial := dstAbs + ".partial"

	out, err := os.Create(partial)
	if err != nil {
		return 0, "", fmt.Errorf("transport: local copy %q: creating temp: %w", dst, err)
	}

	h := xxhash.New()
	written, copyErr := io.Copy(io.MultiWriter(out, h), in)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(partial)

		if copyErr != nil {
			return 0, "", fmt.Errorf("transport: local copy %q: %w", dst, copyErr)
		}

		return 0, "", fmt.Errorf("transport: local copy %q: closing temp: %w", dst, closeErr)
	}

	if err := os.Rename(partial, dstAbs); err != nil {
		os.Remove(partial)

		return 0, "", fmt.Errorf("transport: local copy %q: renaming temp: %w", dst, err)
	}

	return written, digestHex(h), nil
}

func digestHex(h hash.Hash64) string {
	return fmt.Sprintf("%016x", h.Sum64())
}

func (l *Local) Checksums(_ context.Context, path string, blockSize int) ([]BlockChecksum, error) {
	f, err := os.Open(l.abs(path))
	if err != nil {
		return nil, fmt.Errorf("transport: local checksums %q: %w", path, err)
	}
	defer f.Close()

	table, err := deltacodec.BuildChecksums(f, blockSize)
	if err != nil {
		return nil, fmt.Errorf("transport: local checksums %q: %w", path, err)
	}

	out := make([]BlockChecksum, len(table))
	for i, bc := range table {
		out[i] = BlockChecksum(bc)
	}

	return out, nil
}

// ApplyDelta applies ops against the existing content of path, writing to a
// sibling temp file and atomically renaming over path on success; on any
// failure before the rename, the temp file is removed and path is left
// untouched.
func (l *Local) ApplyDelta(_ context.Context, path string, ops []DeltaOp) (ApplyResult, error) {
	abs := l.abs(path)

	base, err := os.Open(abs)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("transport: local apply-delta %q: opening base: %w", path, err)
	}
	defer base.Close()

	tmp := abs + ".tmp"

	out, err := os.Create(tmp)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("transport: local apply-delta %q: creating temp: %w", path, err)
	}

	codecOps := make(deltacodec.Delta, len(ops))

	var literalBytes int64

	for i, op := range ops {
		codecOps[i] = deltacodec.DeltaOp(op)
		if !op.Copy {
			literalBytes += int64(len(op.Literal))
		}
	}

	applyErr := deltacodec.Apply(base, codecOps, out)
	closeErr := out.Close()

	if applyErr != nil || closeErr != nil {
		os.Remove(tmp)

		if applyErr != nil {
			return ApplyResult{}, fmt.Errorf("transport: local apply-delta %q: %w", path, applyErr)
		}

		return ApplyResult{}, fmt.Errorf("transport: local apply-delta %q: closing temp: %w", path, closeErr)
	}

	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)

		return ApplyResult{}, fmt.Errorf("transport: local apply-delta %q: renaming temp: %w", path, err)
	}

	return ApplyResult{OperationsCount: len(ops), LiteralBytes: literalBytes}, nil
}

func (l *Local) Remove(_ context.Context, path string) error {
	if err := os.Remove(l.abs(path)); err != nil {
		return fmt.Errorf("transport: local remove %q: %w", path, err)
	}

	return nil
}

func (l *Local) CreateSymlink(_ context.Context, path, target string) error {
	abs := l.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("transport: local symlink %q: creating parent: %w", path, err)
	}

	if err := os.Symlink(target, abs); err != nil {
		return fmt.Errorf("transport: local symlink %q: %w", path, err)
	}

	return nil
}

func (l *Local) CreateHardlink(_ context.Context, path, existing string) error {
	abs := l.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("transport: local hardlink %q: creating parent: %w", path, err)
	}

	if err := os.Link(l.abs(existing), abs); err != nil {
		return fmt.Errorf("transport: local hardlink %q: %w", path, err)
	}

	return nil
}

func (l *Local) SetMtime(_ context.Context, path string, mtime time.Time) error {
	if err := os.Chtimes(l.abs(path), mtime, mtime); err != nil {
		return fmt.Errorf("transport: local set-mtime %q: %w", path, err)
	}

	return nil
}

func (l *Local) Close() error { return nil }
