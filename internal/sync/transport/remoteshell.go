package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// helperBinary is the trusted binary invoked on the far side. Its session
// lifecycle and authentication are external collaborators (see package
// remotehelper in cmd); RemoteShell only speaks its JSON protocol.
const helperBinary = "syncd-helper"

// scanEntry is one line of the helper's `scan` JSON output.
type scanEntry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
	IsDir bool   `json:"is_dir"`
}

type scanResponse struct {
	Entries []scanEntry `json:"entries"`
}

type applyResponse struct {
	OperationsCount int   `json:"operations_count"`
	LiteralBytes    int64 `json:"literal_bytes"`
}

// RemoteShell implements Transport over a single multiplexed SSH session: a
// command-exec channel runs the trusted helper's scan/checksums/apply-delta
// JSON protocol, and an SFTP subsystem handles byte-level file transfer.
// The session is a single shared resource; every operation serializes
// through mu, matching the spec's "SSH session is single-threaded" policy.
type RemoteShell struct {
	root   string
	client *ssh.Client
	sftp   *sftp.Client
	mu     sync.Mutex
}

// NewRemoteShell wraps an already-established SSH client. Session setup
// (dial, auth) is an external collaborator per the core's scope.
func NewRemoteShell(client *ssh.Client, root string) (*RemoteShell, error) {
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("transport: remoteshell: opening sftp subsystem: %w", err)
	}

	return &RemoteShell{root: root, client: client, sftp: sc}, nil
}

func (r *RemoteShell) abs(p string) string {
	return path.Join(r.root, p)
}

// runHelper executes the helper binary with args over a fresh exec channel
// and returns its stdout. Held under mu for the duration of the call.
func (r *RemoteShell) runHelper(args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("transport: remoteshell: opening session: %w", err)
	}
	defer session.Close()

	cmd := helperBinary
	for _, a := range args {
		cmd += " " + shellQuote(a)
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(cmd); err != nil {
		return nil, fmt.Errorf("transport: remoteshell: helper command %q failed: %w (stderr: %s)", cmd, err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// shellQuote wraps s in single quotes for the remote shell, escaping any
// embedded single quote so that path arguments can never break out of the
// quoted form (command injection defense against untrusted path content).
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (r *RemoteShell) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.StatPath(ctx, path)
	if err != nil {
		return false, nil //nolint:nilerr // any stat failure is treated as absent
	}

	return true, nil
}

func (r *RemoteShell) StatPath(_ context.Context, relPath string) (Stat, error) {
	r.mu.Lock()
	info, err := r.sftp.Lstat(r.abs(relPath))
	r.mu.Unlock()

	if err != nil {
		return Stat{}, fmt.Errorf("transport: remoteshell stat %q: %w", relPath, err)
	}

	return Stat{Path: relPath, Size: info.Size(), Mtime: info.ModTime(), IsDir: info.IsDir()}, nil
}

// List invokes the helper's `scan` command rather than walking over SFTP
// directly; on a large tree this amortizes round trips into one call.
func (r *RemoteShell) List(_ context.Context, relPath string) ([]Stat, error) {
	out, err := r.runHelper("scan", r.abs(relPath))
	if err != nil {
		return nil, err
	}

	var resp scanResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("transport: remoteshell scan %q: parsing response: %w", relPath, err)
	}

	out2 := make([]Stat, len(resp.Entries))
	for i, e := range resp.Entries {
		out2[i] = Stat{Path: e.Path, Size: e.Size, Mtime: time.Unix(e.Mtime, 0), IsDir: e.IsDir}
	}

	return out2, nil
}

func (r *RemoteShell) CreateDirAll(_ context.Context, relPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sftp.MkdirAll(r.abs(relPath)); err != nil {
		return fmt.Errorf("transport: remoteshell mkdir %q: %w", relPath, err)
	}

	return nil
}

func (r *RemoteShell) Read(_ context.Context, relPath string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.sftp.Open(r.abs(relPath))
	if err != nil {
		return nil, fmt.Errorf("transport: remoteshell read %q: %w", relPath, err)
	}

	return f, nil
}

func (r *RemoteShell) Write(_ context.Context, relPath string) (io.WriteCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sftp.MkdirAll(path.Dir(r.abs(relPath))); err != nil {
		return nil, fmt.Errorf("transport: remoteshell write %q: creating parent: %w", relPath, err)
	}

	f, err := r.sftp.Create(r.abs(relPath))
	if err != nil {
		return nil, fmt.Errorf("transport: remoteshell write %q: %w", relPath, err)
	}

	return f, nil
}

func (r *RemoteShell) CopyFile(ctx context.Context, src, dst string) (int64, string, error) {
	in, err := r.Read(ctx, src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	out, err := r.Write(ctx, dst)
	if err != nil {
		return 0, "", err
	}

	written, err := io.Copy(out, in)
	closeErr := out.Close()

	if err != nil {
		return 0, "", fmt.Errorf("transport: remoteshell copy %q: %w", dst, err)
	}

	if closeErr != nil {
		return 0, "", fmt.Errorf("transport: remoteshell copy %q: closing: %w", dst, closeErr)
	}

	return written, "", nil
}

func (r *RemoteShell) Checksums(_ context.Context, relPath string, blockSize int) ([]BlockChecksum, error) {
	out, err := r.runHelper("checksums", r.abs(relPath), "--block-size", fmt.Sprintf("%d", blockSize))
	if err != nil {
		return nil, err
	}

	var table []BlockChecksum
	if err := json.Unmarshal(out, &table); err != nil {
		return nil, fmt.Errorf("transport: remoteshell checksums %q: parsing response: %w", relPath, err)
	}

	return table, nil
}

// ApplyDelta serializes ops to JSON and asks the helper to apply them
// server-side, then atomically replaces the destination with the result.
// The helper writes the result to a tmp path; this method then issues a
// separate helper "mv" call to rename it over the destination, matching
// §4.7's "apply-delta ... the local side issues an mv for atomic
// replacement" contract.
func (r *RemoteShell) ApplyDelta(_ context.Context, relPath string, ops []DeltaOp) (ApplyResult, error) {
	blob, err := json.Marshal(ops)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("transport: remoteshell apply-delta %q: encoding ops: %w", relPath, err)
	}

	abs := r.abs(relPath)
	tmp := abs + ".tmp"

	out, err := r.runHelper("apply-delta", abs, tmp, "--delta-json", string(blob))
	if err != nil {
		return ApplyResult{}, err
	}

	var resp applyResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return ApplyResult{}, fmt.Errorf("transport: remoteshell apply-delta %q: parsing response: %w", relPath, err)
	}

	if _, err := r.runHelper("mv", tmp, abs); err != nil {
		return ApplyResult{}, fmt.Errorf("transport: remoteshell apply-delta %q: finalizing rename: %w", relPath, err)
	}

	return ApplyResult{OperationsCount: resp.OperationsCount, LiteralBytes: resp.LiteralBytes}, nil
}

func (r *RemoteShell) Remove(_ context.Context, relPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sftp.Remove(r.abs(relPath)); err != nil {
		return fmt.Errorf("transport: remoteshell remove %q: %w", relPath, err)
	}

	return nil
}

func (r *RemoteShell) CreateSymlink(_ context.Context, relPath, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sftp.Symlink(target, r.abs(relPath)); err != nil {
		return fmt.Errorf("transport: remoteshell symlink %q: %w", relPath, err)
	}

	return nil
}

// CreateHardlink has no SFTP primitive; delegated to the trusted helper.
func (r *RemoteShell) CreateHardlink(_ context.Context, relPath, existing string) error {
	if _, err := r.runHelper("link", r.abs(existing), r.abs(relPath)); err != nil {
		return fmt.Errorf("transport: remoteshell hardlink %q: %w", relPath, err)
	}

	return nil
}

func (r *RemoteShell) SetMtime(_ context.Context, relPath string, mtime time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sftp.Chtimes(r.abs(relPath), mtime, mtime); err != nil {
		return fmt.Errorf("transport: remoteshell set-mtime %q: %w", relPath, err)
	}

	return nil
}

func (r *RemoteShell) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sftpErr := r.sftp.Close()
	clientErr := r.client.Close()

	if sftpErr != nil {
		return fmt.Errorf("transport: remoteshell close: %w", sftpErr)
	}

	if clientErr != nil {
		return fmt.Errorf("transport: remoteshell close: %w", clientErr)
	}

	return nil
}
