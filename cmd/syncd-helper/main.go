// Command syncd-helper is the trusted binary a RemoteShell transport invokes
// over SSH to scan a remote tree, build block-checksum tables, and apply a
// delta instruction stream server-side, so a sync run only has to ship the
// literal bytes it can't reconstruct from the existing destination file.
// It speaks a small line-oriented JSON protocol matched exactly by
// internal/sync/transport/remoteshell.go — the two sides are never compiled
// together, so a protocol change here must be mirrored there.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/syncd-project/syncd/internal/sync/deltacodec"
)

func main() {
	if len(os.Args) < 2 {
		fatal("usage: syncd-helper <scan|checksums|apply-delta|mv> ...")
	}

	var err error

	switch os.Args[1] {
	case "scan":
		err = cmdScan(os.Args[2:])
	case "checksums":
		err = cmdChecksums(os.Args[2:])
	case "apply-delta":
		err = cmdApplyDelta(os.Args[2:])
	case "mv":
		err = cmdMv(os.Args[2:])
	default:
		fatal(fmt.Sprintf("syncd-helper: unknown command %q", os.Args[1]))
	}

	if err != nil {
		fatal(err.Error())
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

// scanEntry mirrors remoteshell.go's scanEntry — field names and JSON tags
// must match byte for byte since the two sides are never compiled together.
type scanEntry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
	IsDir bool   `json:"is_dir"`
}

type scanResponse struct {
	Entries []scanEntry `json:"entries"`
}

// cmdScan walks root and prints every descendant's path (relative to root),
// size, mtime, and directory flag as one scanResponse, matching
// transport.Local.List's relative-path convention so the two transports
// behave identically from the scan/plan pipeline's point of view.
func cmdScan(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("scan: missing path argument")
	}

	root := args[0]

	var entries []scanEntry

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		entries = append(entries, scanEntry{
			Path:  rel,
			Size:  info.Size(),
			Mtime: info.ModTime().Unix(),
			IsDir: d.IsDir(),
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %q: %w", root, err)
	}

	return json.NewEncoder(os.Stdout).Encode(scanResponse{Entries: entries})
}

// cmdChecksums builds a block-checksum table over the file at args[0],
// with the block size given by --block-size, and prints it as a bare JSON
// array (not wrapped in an object) to match remoteshell.go's
// `var table []BlockChecksum; json.Unmarshal(out, &table)`.
func cmdChecksums(args []string) error {
	path, rest := shiftPositional(args)
	if path == "" {
		return fmt.Errorf("checksums: missing path argument")
	}

	blockSizeStr := flagValue(rest, "--block-size")
	if blockSizeStr == "" {
		return fmt.Errorf("checksums: missing --block-size")
	}

	blockSize, err := strconv.Atoi(blockSizeStr)
	if err != nil {
		return fmt.Errorf("checksums: invalid --block-size %q: %w", blockSizeStr, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("checksums: opening %q: %w", path, err)
	}
	defer f.Close()

	table, err := deltacodec.BuildChecksums(bufio.NewReader(f), blockSize)
	if err != nil {
		return fmt.Errorf("checksums: building table for %q: %w", path, err)
	}

	return json.NewEncoder(os.Stdout).Encode(table)
}

type applyResponse struct {
	OperationsCount int   `json:"operations_count"`
	LiteralBytes    int64 `json:"literal_bytes"`
}

// cmdApplyDelta reads the existing file at args[0] (the "old" base), applies
// the delta instruction stream passed as --delta-json against it, and writes
// the reconstructed content to args[1] (a tmp path the caller will rename
// into place with a separate "mv" call). Matches remoteshell.go's
// ApplyDelta, which issues its own "mv" afterward for the atomic replace.
func cmdApplyDelta(args []string) error {
	positional, rest := shiftPositionalN(args, 2)
	if len(positional) < 2 {
		return fmt.Errorf("apply-delta: expected <old> <new-tmp>")
	}

	oldPath, newPath := positional[0], positional[1]

	deltaJSON := flagValue(rest, "--delta-json")
	if deltaJSON == "" {
		return fmt.Errorf("apply-delta: missing --delta-json")
	}

	var ops deltacodec.Delta
	if err := json.Unmarshal([]byte(deltaJSON), &ops); err != nil {
		return fmt.Errorf("apply-delta: parsing --delta-json: %w", err)
	}

	base, err := os.Open(oldPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("apply-delta: opening base %q: %w", oldPath, err)
	}
	if base != nil {
		defer base.Close()
	}

	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return fmt.Errorf("apply-delta: creating parent of %q: %w", newPath, err)
	}

	out, err := os.Create(newPath)
	if err != nil {
		return fmt.Errorf("apply-delta: creating %q: %w", newPath, err)
	}
	defer out.Close()

	var baseReader io.ReaderAt = emptyReaderAt{}
	if base != nil {
		baseReader = base
	}

	if err := deltacodec.Apply(baseReader, ops, out); err != nil {
		return fmt.Errorf("apply-delta: applying to %q: %w", newPath, err)
	}

	resp := applyResponse{OperationsCount: len(ops)}
	for _, op := range ops {
		if !op.Copy {
			resp.LiteralBytes += int64(len(op.Literal))
		}
	}

	return json.NewEncoder(os.Stdout).Encode(resp)
}

// cmdMv performs the atomic rename remoteshell.go's ApplyDelta issues as a
// follow-up call once the temp file is fully written.
func cmdMv(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("mv: expected <src> <dst>")
	}

	if err := os.Rename(args[0], args[1]); err != nil {
		return fmt.Errorf("mv %q %q: %w", args[0], args[1], err)
	}

	return nil
}

// emptyReaderAt backs a zero-length base file — a create against a
// destination that doesn't exist yet still has a valid (empty) delta base.
type emptyReaderAt struct{}

func (emptyReaderAt) ReadAt(_ []byte, _ int64) (int, error) {
	return 0, io.EOF
}

// shiftPositional returns args[0] (or "" if absent) and the remainder.
func shiftPositional(args []string) (string, []string) {
	if len(args) == 0 {
		return "", nil
	}

	return args[0], args[1:]
}

// shiftPositionalN returns the first n non-flag leading args and the
// remainder, stopping at the first "--"-prefixed token.
func shiftPositionalN(args []string, n int) ([]string, []string) {
	var positional []string

	i := 0
	for i < len(args) && len(positional) < n {
		if len(args[i]) >= 2 && args[i][:2] == "--" {
			break
		}

		positional = append(positional, args[i])
		i++
	}

	return positional, args[i:]
}

// flagValue finds "--name value" in args and returns value.
func flagValue(args []string, name string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			return args[i+1]
		}
	}

	return ""
}
