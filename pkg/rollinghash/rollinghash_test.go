package rollinghash

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// rollThrough primes w on data[0:n] then rolls through to the end of data,
// recording Sum32 at every window position.
func rollThrough(t *testing.T, data []byte, n int) []uint32 {
	t.Helper()

	require.GreaterOrEqual(t, len(data), n)

	var w Weak

	w.Reset(n)
	_, _ = w.Write(data[:n])

	sums := []uint32{w.Sum32()}

	for i := 1; i+n <= len(data); i++ {
		w.Roll(data[i-1], data[i+n-1])
		sums = append(sums, w.Sum32())
	}

	return sums
}

func TestRollMatchesNonRollingHash(t *testing.T) {
	const windowSize = 16

	cases := map[string][]byte{
		"all zero":        bytes.Repeat([]byte{0x00}, 1<<20),
		"all 0xFF":        bytes.Repeat([]byte{0xFF}, 1<<20),
		"repeating 4byte": bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 1<<18),
		"random":          randomBytes(1 << 20),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			sums := rollThrough(t, data, windowSize)

			for i, got := range sums {
				want := Hash(data[i : i+windowSize])
				require.Equalf(t, want, got, "position %d", i)
			}
		})
	}
}

func TestRollSmallWindow(t *testing.T) {
	data := []byte("abcdefghij")
	sums := rollThrough(t, data, 3)
	require.Equal(t, Hash([]byte("abc")), sums[0])
	require.Equal(t, Hash([]byte("bcd")), sums[1])
	require.Equal(t, Hash([]byte("hij")), sums[len(sums)-1])
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(1)).Read(b) //nolint:gosec // deterministic test fixture, not security sensitive

	return b
}
