package sync

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket's burst above its steady rate so a
// worker isn't starved waiting for a single byte's worth of tokens.
const burstMultiplier = 2

// BandwidthLimiter wraps golang.org/x/time/rate.Limiter as a shared,
// byte-denominated token bucket. A nil *BandwidthLimiter means unlimited
// (every Wrap call is then a no-op), grounded on the teacher's
// internal/sync/bandwidth.go, which this module adopts golang.org/x/time/rate
// from directly as a declared dependency (the teacher imports it without
// listing it in go.mod).
type BandwidthLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBandwidthLimiter returns a limiter capped at bytesPerSec, or nil
// (unlimited) if bytesPerSec <= 0.
func NewBandwidthLimiter(bytesPerSec int64, logger *slog.Logger) *BandwidthLimiter {
	if bytesPerSec <= 0 {
		return nil
	}

	limit := rate.Limit(bytesPerSec)

	return &BandwidthLimiter{
		limiter: rate.NewLimiter(limit, int(bytesPerSec)*burstMultiplier),
		logger:  logger,
	}
}

// WrapReader returns r unchanged if l is nil.
func (l *BandwidthLimiter) WrapReader(r io.Reader) io.Reader {
	if l == nil {
		return r
	}

	return &rateLimitedReader{r: r, l: l}
}

// WrapWriter returns w unchanged if l is nil.
func (l *BandwidthLimiter) WrapWriter(w io.Writer) io.Writer {
	if l == nil {
		return w
	}

	return &rateLimitedWriter{w: w, l: l}
}

func (l *BandwidthLimiter) waitN(n int) {
	burst := l.limiter.Burst()

	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}

		if err := l.limiter.WaitN(context.Background(), chunk); err != nil {
			l.logger.Warn("bandwidth: wait error", slog.String("error", err.Error()))
			return
		}

		n -= chunk
	}
}

type rateLimitedReader struct {
	r io.Reader
	l *BandwidthLimiter
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.l.waitN(n)
	}

	return n, err
}

type rateLimitedWriter struct {
	w io.Writer
	l *BandwidthLimiter
}

func (w *rateLimitedWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.l.waitN(n)
	}

	return n, err
}
