package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrUnsupported is returned by ObjectStore methods with no object-store
// equivalent (delta sync, hardlinks, symlinks).
var ErrUnsupported = errors.New("operation not supported by this transport")

// ObjectStore implements Transport against an S3-compatible bucket. Delta
// sync (Checksums, ApplyDelta), hardlinks, symlinks and direct Write have no
// object-store equivalent here and return errors wrapping ErrUnsupported;
// S3 is an out-of-core, secondary transport per the engine's scope and
// every caller must be prepared for these methods to fail this way.
type ObjectStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewObjectStore returns an ObjectStore transport for the given bucket,
// rooted at prefix (may be empty).
func NewObjectStore(client *s3.Client, bucket, prefix string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (o *ObjectStore) key(path string) string {
	if o.prefix == "" {
		return path
	}

	return o.prefix + "/" + path
}

func (o *ObjectStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(o.bucket), Key: aws.String(o.key(path))})
	if err != nil {
		return false, nil //nolint:nilerr // HeadObject error (incl. 404) is treated as absent
	}

	return true, nil
}

func (o *ObjectStore) StatPath(ctx context.Context, path string) (Stat, error) {
	out, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(o.bucket), Key: aws.String(o.key(path))})
	if err != nil {
		return Stat{}, fmt.Errorf("transport: objectstore stat %q: %w", path, err)
	}

	st := Stat{Path: path}
	if out.ContentLength != nil {
		st.Size = *out.ContentLength
	}

	if out.LastModified != nil {
		st.Mtime = *out.LastModified
	}

	return st, nil
}

func (o *ObjectStore) List(ctx context.Context, path string) ([]Stat, error) {
	prefix := o.key(path)

	var out []Stat

	paginator := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("transport: objectstore list %q: %w", path, err)
		}

		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			rel = strings.TrimPrefix(rel, "/")

			st := Stat{Path: rel}
			if obj.Size != nil {
				st.Size = *obj.Size
			}

			if obj.LastModified != nil {
				st.Mtime = *obj.LastModified
			}

			out = append(out, st)
		}
	}

	return out, nil
}

// CreateDirAll is a no-op: object stores have no real directory entries.
func (o *ObjectStore) CreateDirAll(_ context.Context, _ string) error { return nil }

func (o *ObjectStore) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(o.bucket), Key: aws.String(o.key(path))})
	if err != nil {
		return nil, fmt.Errorf("transport: objectstore read %q: %w", path, err)
	}

	return out.Body, nil
}

// Write is unsupported directly (S3 PutObject needs a known length or a
// multipart session); callers should use CopyFile instead.
func (o *ObjectStore) Write(_ context.Context, path string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("transport: objectstore write %q: %w (use CopyFile)", path, ErrUnsupported)
}

func (o *ObjectStore) CopyFile(ctx context.Context, src, dst string) (int64, string, error) {
	r, err := o.Read(ctx, src)
	if err != nil {
		return 0, "", err
	}
	defer r.Close()

	buf, err := io.ReadAll(r)
	if err != nil {
		return 0, "", fmt.Errorf("transport: objectstore copy %q: reading source: %w", dst, err)
	}

	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(dst)),
		Body:   strings.NewReader(string(buf)),
	})
	if err != nil {
		return 0, "", fmt.Errorf("transport: objectstore copy %q: %w", dst, err)
	}

	return int64(len(buf)), "", nil
}

func (o *ObjectStore) Checksums(_ context.Context, path string, _ int) ([]BlockChecksum, error) {
	return nil, fmt.Errorf("transport: objectstore checksums %q: %w", path, ErrUnsupported)
}

func (o *ObjectStore) ApplyDelta(_ context.Context, path string, _ []DeltaOp) (ApplyResult, error) {
	return ApplyResult{}, fmt.Errorf("transport: objectstore apply-delta %q: %w", path, ErrUnsupported)
}

func (o *ObjectStore) Remove(ctx context.Context, path string) error {
	_, err := o.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(o.bucket), Key: aws.String(o.key(path))})
	if err != nil {
		return fmt.Errorf("transport: objectstore remove %q: %w", path, err)
	}

	return nil
}

func (o *ObjectStore) CreateSymlink(_ context.Context, path, _ string) error {
	return fmt.Errorf("transport: objectstore symlink %q: %w", path, ErrUnsupported)
}

func (o *ObjectStore) CreateHardlink(_ context.Context, path, _ string) error {
	return fmt.Errorf("transport: objectstore hardlink %q: %w", path, ErrUnsupported)
}

// SetMtime has no S3 equivalent without a copy-in-place; it is treated as
// metadata the bucket does not track.
func (o *ObjectStore) SetMtime(_ context.Context, _ string, _ time.Time) error { return nil }

func (o *ObjectStore) Close() error { return nil }

// storageClass is unused today but documents the intended knob for
// future cold-storage tiering of infrequently-synced buckets.
var _ = types.StorageClassStandard
