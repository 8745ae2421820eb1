// Package deltacodec builds block checksum tables, generates delta
// instruction streams against them, and applies those streams, using the
// rsync-style weak+strong matching algorithm. Strong checksums use xxhash
// for speed; weak checksums use the rolling Adler-32 variant in
// pkg/rollinghash.
package deltacodec

import (
	"bufio"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/syncd-project/syncd/pkg/rollinghash"
)

const (
	minBlockSize = 512
	maxBlockSize = 131072
)

// BlockChecksum describes one block of the base (old destination) file.
type BlockChecksum struct {
	Index  int
	Offset int64
	Size   int
	Weak   uint32
	Strong uint64
}

// DeltaOp is either a Copy (reuse a base byte range) or a Data (literal)
// instruction.
type DeltaOp struct {
	Copy    bool
	Offset  int64
	Size    int64
	Literal []byte
}

// Delta is an ordered instruction stream.
type Delta []DeltaOp

// BlockSize returns the block size policy for a file of the given length:
// ceil(sqrt(fileSize)) clamped to [512, 131072].
func BlockSize(fileSize int64) int {
	if fileSize <= 0 {
		return minBlockSize
	}

	n := isqrtCeil(fileSize)

	switch {
	case n < minBlockSize:
		return minBlockSize
	case n > maxBlockSize:
		return maxBlockSize
	default:
		return int(n)
	}
}

func isqrtCeil(n int64) int64 {
	if n <= 1 {
		return n
	}

	lo, hi := int64(1), n

	for lo < hi {
		mid := (lo + hi) / 2
		if mid*mid < n {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo
}

// BuildChecksums reads r fully, partitioning it into blocks of size n (the
// final block may be shorter), and returns one BlockChecksum per block.
func BuildChecksums(r io.Reader, n int) ([]BlockChecksum, error) {
	if n <= 0 {
		return nil, fmt.Errorf("deltacodec: block size must be positive, got %d", n)
	}

	br := bufio.NewReaderSize(r, n*4)
	buf := make([]byte, n)

	var (
		table  []BlockChecksum
		offset int64
		index  int
	)

	for {
		read, err := io.ReadFull(br, buf)
		if read > 0 {
			block := buf[:read]
			table = append(table, BlockChecksum{
				Index:  index,
				Offset: offset,
				Size:   read,
				Weak:   rollinghash.Hash(block),
				Strong: xxhash.Sum64(block),
			})
			offset += int64(read)
			index++
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("deltacodec: reading block %d: %w", index, err)
		}
	}

	return table, nil
}

// candidate is one base block sharing a weak checksum bucket.
type candidate struct {
	offset int64
	size   int
	strong uint64
}

// GenerateDelta produces a Delta that reconstructs the content of r (the new
// file) by referencing blocks of the base file described by table, falling
// back to literal data where no block matches.
func GenerateDelta(r io.Reader, table []BlockChecksum) (Delta, error) {
	blockSize := 0
	if len(table) > 0 {
		blockSize = table[0].Size
	}

	if blockSize == 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("deltacodec: reading source: %w", err)
		}

		if len(data) == 0 {
			return Delta{}, nil
		}

		return Delta{{Literal: data}}, nil
	}

	buckets := make(map[uint32][]candidate, len(table))
	for _, bc := range table {
		buckets[bc.Weak] = append(buckets[bc.Weak], candidate{offset: bc.Offset, size: bc.Size, strong: bc.Strong})
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("deltacodec: reading source: %w", err)
	}

	if len(data) < blockSize {
		if len(data) == 0 {
			return Delta{}, nil
		}

		return Delta{{Literal: data}}, nil
	}

	var (
		ops     Delta
		literal []byte
		w       rollinghash.Weak
		pos     int
	)

	w.Reset(blockSize)
	_, _ = w.Write(data[0:blockSize])

	flush := func() {
		if len(literal) > 0 {
			ops = append(ops, DeltaOp{Literal: append([]byte(nil), literal...)})
			literal = literal[:0]
		}
	}

	for pos+blockSize <= len(data) {
		window := data[pos : pos+blockSize]
		matched := false

		for _, c := range buckets[w.Sum32()] {
			if c.size != len(window) {
				continue
			}

			if c.strong == xxhash.Sum64(window) {
				flush()
				ops = append(ops, DeltaOp{Copy: true, Offset: c.offset, Size: int64(c.size)})
				matched = true

				break
			}
		}

		if matched {
			pos += blockSize

			if pos+blockSize <= len(data) {
				w.Reset(blockSize)
				_, _ = w.Write(data[pos : pos+blockSize])
			}

			continue
		}

		literal = append(literal, data[pos])

		if pos+blockSize < len(data) {
			w.Roll(data[pos], data[pos+blockSize])
		}

		pos++
	}

	literal = append(literal, data[pos:]...)
	flush()

	return ops, nil
}

// streamBufMultiplier sizes GenerateDeltaStreaming's bounded read-ahead
// buffer as a multiple of the block size, per the streaming-mode buffer
// size spec.md calls out (4*N).
const streamBufMultiplier = 4

// GenerateDeltaStreaming produces the same Delta as GenerateDelta without
// reading r fully via io.ReadAll: its read-ahead window is bounded at
// streamBufMultiplier*blockSize bytes. Unmatched bytes collect in a literal
// buffer until the next block match or the end of input, so a long run of
// new data is held in memory whole; memory is therefore not bounded by the
// block size.
func GenerateDeltaStreaming(r io.Reader, table []BlockChecksum) (Delta, error) {
	blockSize := 0
	if len(table) > 0 {
		blockSize = table[0].Size
	}

	if blockSize == 0 {
		return literalAll(r)
	}

	buckets := make(map[uint32][]candidate, len(table))
	for _, bc := range table {
		buckets[bc.Weak] = append(buckets[bc.Weak], candidate{offset: bc.Offset, size: bc.Size, strong: bc.Strong})
	}

	br := bufio.NewReaderSize(r, blockSize*streamBufMultiplier)

	window, err := br.Peek(blockSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("deltacodec: reading source: %w", err)
	}

	if len(window) < blockSize {
		if len(window) == 0 {
			return Delta{}, nil
		}

		return Delta{{Literal: append([]byte(nil), window...)}}, nil
	}

	var (
		ops     Delta
		literal []byte
		w       rollinghash.Weak
	)

	w.Reset(blockSize)
	_, _ = w.Write(window)

	flush := func() {
		if len(literal) > 0 {
			ops = append(ops, DeltaOp{Literal: append([]byte(nil), literal...)})
			literal = literal[:0]
		}
	}

	for {
		window, err := br.Peek(blockSize)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("deltacodec: reading source: %w", err)
		}

		if len(window) < blockSize {
			break
		}

		matched := false

		for _, c := range buckets[w.Sum32()] {
			if c.size != len(window) {
				continue
			}

			if c.strong == xxhash.Sum64(window) {
				flush()
				ops = append(ops, DeltaOp{Copy: true, Offset: c.offset, Size: int64(c.size)})

				if _, err := br.Discard(blockSize); err != nil {
					return nil, fmt.Errorf("deltacodec: advancing past matched block: %w", err)
				}

				matched = true

				break
			}
		}

		if matched {
			next, err := br.Peek(blockSize)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("deltacodec: reading source: %w", err)
			}

			if len(next) < blockSize {
				break
			}

			w.Reset(blockSize)
			_, _ = w.Write(next)

			continue
		}

		b := window[0]
		literal = append(literal, b)

		lookahead, err := br.Peek(blockSize + 1)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("deltacodec: reading source: %w", err)
		}

		if len(lookahead) > blockSize {
			w.Roll(b, lookahead[blockSize])
		}

		if _, err := br.Discard(1); err != nil {
			return nil, fmt.Errorf("deltacodec: advancing: %w", err)
		}
	}

	tail, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("deltacodec: reading source: %w", err)
	}

	literal = append(literal, tail...)
	flush()

	return ops, nil
}

// literalAll drains r (which GenerateDeltaStreaming only reaches when the
// base file was empty, so there is no block table to diff against) into a
// single literal op. The caller has no block size to bound a read-ahead
// buffer against in this case, so reading fully here is unavoidable.
func literalAll(r io.Reader) (Delta, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("deltacodec: reading source: %w", err)
	}

	if len(data) == 0 {
		return Delta{}, nil
	}

	return Delta{{Literal: data}}, nil
}

// Apply reconstructs the new file by writing ops to w, reading Copy ranges
// from base.
func Apply(base io.ReaderAt, ops Delta, w io.Writer) error {
	for i, op := range ops {
		if op.Copy {
			buf := make([]byte, op.Size)
			if _, err := base.ReadAt(buf, op.Offset); err != nil && err != io.EOF {
				return fmt.Errorf("deltacodec: applying op %d (copy): %w", i, err)
			}

			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("deltacodec: writing op %d (copy): %w", i, err)
			}

			continue
		}

		if _, err := w.Write(op.Literal); err != nil {
			return fmt.Errorf("deltacodec: writing op %d (literal): %w", i, err)
		}
	}

	return nil
}
