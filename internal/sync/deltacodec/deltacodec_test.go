package deltacodec

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundtrip(t *testing.T, base, newContent []byte, blockSize int) []byte {
	t.Helper()

	return roundtripWith(t, GenerateDelta, base, newContent, blockSize)
}

func roundtripStreaming(t *testing.T, base, newContent []byte, blockSize int) []byte {
	t.Helper()

	return roundtripWith(t, GenerateDeltaStreaming, base, newContent, blockSize)
}

func roundtripWith(t *testing.T, generate func(r io.Reader, table []BlockChecksum) (Delta, error), base, newContent []byte, blockSize int) []byte {
	t.Helper()

	table, err := BuildChecksums(bytes.NewReader(base), blockSize)
	require.NoError(t, err)

	delta, err := generate(bytes.NewReader(newContent), table)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, Apply(bytes.NewReader(base), delta, &out))

	return out.Bytes()
}

func TestDeltaRoundTripGrows(t *testing.T) {
	base := bytes.Repeat([]byte("abcdefgh"), 100)
	newContent := append(append([]byte(nil), base...), []byte("extra tail data appended")...)

	got := roundtrip(t, base, newContent, 16)
	require.Equal(t, newContent, got)
}

func TestDeltaRoundTripShrinks(t *testing.T) {
	base := bytes.Repeat([]byte("abcdefgh"), 100)
	newContent := base[:400]

	got := roundtrip(t, base, newContent, 16)
	require.Equal(t, newContent, got)
}

func TestDeltaRoundTripUnchanged(t *testing.T) {
	base := bytes.Repeat([]byte("0123456789"), 50)

	got := roundtrip(t, base, base, 32)
	require.Equal(t, base, got)
}

func TestDeltaRoundTripDisjoint(t *testing.T) {
	base := bytes.Repeat([]byte{0x01}, 2000)
	newContent := bytes.Repeat([]byte{0x99}, 2000)

	got := roundtrip(t, base, newContent, 64)
	require.Equal(t, newContent, got)
}

func TestDeltaRoundTripRandomMutation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := make([]byte, 200_000)
	rng.Read(base)

	newContent := append([]byte(nil), base...)
	// Mutate a region in the middle; the rest should still match blocks.
	for i := 80_000; i < 90_000; i++ {
		newContent[i] ^= 0xFF
	}

	got := roundtrip(t, base, newContent, BlockSize(int64(len(base))))
	require.Equal(t, newContent, got)
}

func TestBlockSizeClamped(t *testing.T) {
	require.Equal(t, minBlockSize, BlockSize(10))
	require.Equal(t, maxBlockSize, BlockSize(1_000_000_000_000))
	require.Greater(t, BlockSize(100_000_000), minBlockSize)
}

func TestDeltaEmptyInputs(t *testing.T) {
	got := roundtrip(t, nil, nil, 16)
	require.Empty(t, got)

	got = roundtrip(t, nil, []byte("new data, no base"), 16)
	require.Equal(t, []byte("new data, no base"), got)
}

func TestDeltaStreamingRoundTripGrows(t *testing.T) {
	base := bytes.Repeat([]byte("abcdefgh"), 100)
	newContent := append(append([]byte(nil), base...), []byte("extra tail data appended")...)

	got := roundtripStreaming(t, base, newContent, 16)
	require.Equal(t, newContent, got)
}

func TestDeltaStreamingRoundTripShrinks(t *testing.T) {
	base := bytes.Repeat([]byte("abcdefgh"), 100)
	newContent := base[:400]

	got := roundtripStreaming(t, base, newContent, 16)
	require.Equal(t, newContent, got)
}

func TestDeltaStreamingRoundTripUnchanged(t *testing.T) {
	base := bytes.Repeat([]byte("0123456789"), 50)

	got := roundtripStreaming(t, base, base, 32)
	require.Equal(t, base, got)
}

func TestDeltaStreamingRoundTripDisjoint(t *testing.T) {
	base := bytes.Repeat([]byte{0x01}, 2000)
	newContent := bytes.Repeat([]byte{0x99}, 2000)

	got := roundtripStreaming(t, base, newContent, 64)
	require.Equal(t, newContent, got)
}

func TestDeltaStreamingRoundTripRandomMutation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := make([]byte, 200_000)
	rng.Read(base)

	newContent := append([]byte(nil), base...)
	for i := 80_000; i < 90_000; i++ {
		newContent[i] ^= 0xFF
	}

	got := roundtripStreaming(t, base, newContent, BlockSize(int64(len(base))))
	require.Equal(t, newContent, got)
}

func TestDeltaStreamingEmptyInputs(t *testing.T) {
	got := roundtripStreaming(t, nil, nil, 16)
	require.Empty(t, got)

	got = roundtripStreaming(t, nil, []byte("new data, no base"), 16)
	require.Equal(t, []byte("new data, no base"), got)
}

// TestDeltaStreamingMatchesBuffered pins GenerateDeltaStreaming to produce
// the identical op stream as GenerateDelta for the same inputs, not just an
// equivalent reconstruction, across a buffer size (4*blockSize) that forces
// several refills of the streaming reader's internal bufio.Reader.
func TestDeltaStreamingMatchesBuffered(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := make([]byte, 50_000)
	rng.Read(base)

	newContent := append([]byte(nil), base...)
	for i := 10_000; i < 10_050; i++ {
		newContent[i] ^= 0xFF
	}
	newContent = append(newContent, []byte("trailing literal bytes")...)

	blockSize := 512
	table, err := BuildChecksums(bytes.NewReader(base), blockSize)
	require.NoError(t, err)

	buffered, err := GenerateDelta(bytes.NewReader(newContent), table)
	require.NoError(t, err)

	streamed, err := GenerateDeltaStreaming(bytes.NewReader(newContent), table)
	require.NoError(t, err)

	require.Equal(t, buffered, streamed)
}
