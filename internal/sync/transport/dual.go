package transport

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Dual wraps two transports when source and destination live in different
// substrates. Reads come from Src, writes go to Dst; large files stream
// through an io.Pipe rather than buffering in memory, mirroring the
// teacher's io.MultiWriter streaming-while-hashing pattern used for
// downloads.
type Dual struct {
	Src Transport
	Dst Transport
}

func (d *Dual) Exists(ctx context.Context, path string) (bool, error) { return d.Dst.Exists(ctx, path) }

func (d *Dual) StatPath(ctx context.Context, path string) (Stat, error) { return d.Dst.StatPath(ctx, path) }

func (d *Dual) List(ctx context.Context, path string) ([]Stat, error) { return d.Dst.List(ctx, path) }

func (d *Dual) CreateDirAll(ctx context.Context, path string) error { return d.Dst.CreateDirAll(ctx, path) }

func (d *Dual) Read(ctx context.Context, path string) (io.ReadCloser, error) { return d.Src.Read(ctx, path) }

func (d *Dual) Write(ctx context.Context, path string) (io.WriteCloser, error) { return d.Dst.Write(ctx, path) }

// CopyFile streams Src's content into Dst through a bounded pipe so neither
// side needs the whole file in memory.
func (d *Dual) CopyFile(ctx context.Context, src, dst string) (int64, string, error) {
	r, err := d.Src.Read(ctx, src)
	if err != nil {
		return 0, "", err
	}
	defer r.Close()

	pr, pw := io.Pipe()

	go func() {
		_, copyErr := io.Copy(pw, r)
		pw.CloseWithError(copyErr)
	}()

	w, err := d.Dst.Write(ctx, dst)
	if err != nil {
		pr.Close()

		return 0, "", err
	}

	written, err := io.Copy(w, pr)
	closeErr := w.Close()

	if err != nil {
		return 0, "", fmt.Errorf("transport: dual copy %q: %w", dst, err)
	}

	if closeErr != nil {
		return 0, "", fmt.Errorf("transport: dual copy %q: closing destination: %w", dst, closeErr)
	}

	return written, "", nil
}

// Checksums/ApplyDelta operate on the destination's existing content, which
// is what a delta update reuses.
func (d *Dual) Checksums(ctx context.Context, path string, blockSize int) ([]BlockChecksum, error) {
	return d.Dst.Checksums(ctx, path, blockSize)
}

func (d *Dual) ApplyDelta(ctx context.Context, path string, ops []DeltaOp) (ApplyResult, error) {
	return d.Dst.ApplyDelta(ctx, path, ops)
}

func (d *Dual) Remove(ctx context.Context, path string) error { return d.Dst.Remove(ctx, path) }

func (d *Dual) CreateSymlink(ctx context.Context, path, target string) error {
	return d.Dst.CreateSymlink(ctx, path, target)
}

func (d *Dual) CreateHardlink(ctx context.Context, path, existing string) error {
	return d.Dst.CreateHardlink(ctx, path, existing)
}

func (d *Dual) SetMtime(ctx context.Context, path string, mtime time.Time) error {
	return d.Dst.SetMtime(ctx, path, mtime)
}

func (d *Dual) Close() error {
	srcErr := d.Src.Close()
	dstErr := d.Dst.Close()

	if srcErr != nil {
		return fmt.Errorf("transport: dual close: %w", srcErr)
	}

	if dstErr != nil {
		return fmt.Errorf("transport: dual close: %w", dstErr)
	}

	return nil
}
