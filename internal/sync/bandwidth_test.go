package sync

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBandwidthLimiterNilIsNoOp(t *testing.T) {
	var l *BandwidthLimiter

	r := l.WrapReader(bytes.NewReader([]byte("hello")))
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestBandwidthLimiterCapsThroughput(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewBandwidthLimiter(1000, logger) // 1000 B/s, burst 2000

	payload := bytes.Repeat([]byte{1}, 5000)
	w := l.WrapWriter(io.Discard)

	start := time.Now()
	n, err := w.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	elapsed := time.Since(start)
	// 5000 bytes at 1000 B/s with a 2000-byte burst needs >= ~3s for the
	// remaining 3000 bytes; allow generous slack for scheduler jitter.
	require.Greater(t, elapsed, 2*time.Second)
}
