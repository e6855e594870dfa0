// Package limiter spaces requests to the same origin so that bursts of
// due sources do not hammer a single site.
package limiter

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
)

// Config controls limiter behavior.
type Config struct {
	// TTL is how long an origin stays busy after a request.
	TTL time.Duration
	// MaxWait bounds the total time a worker blocks on one origin.
	MaxWait time.Duration
}

// Limiter coordinates per-origin spacing through a shared BusyMarker.
// Coordination failures fail open: monitoring continues unthrottled
// rather than stalling when the coordination store is down.
type Limiter struct {
	marker monitor.BusyMarker
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter.
func New(marker monitor.BusyMarker, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	return &Limiter{
		marker: marker,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Acquire blocks until the origin of rawURL is free or the wait budget
// is spent. Returns an error only on context cancellation.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) error {
	origin := Origin(rawURL)
	deadline := time.Now().Add(l.cfg.MaxWait)
	start := time.Now()

	for {
		busy, err := l.marker.IsBusy(ctx, origin)
		if err != nil {
			l.logger.Warn("rate limit check failed, proceeding unthrottled",
				zap.String("origin", origin), zap.Error(err))
			return nil
		}
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			l.logger.Warn("rate limit wait budget spent, proceeding",
				zap.String("origin", origin))
			break
		}
		if err := l.sleep(ctx, jitteredPause()); err != nil {
			return err
		}
	}

	if waited := time.Since(start); waited > 50*time.Millisecond {
		metrics.ObserveRateLimitDelay(origin, waited)
	}
	return nil
}

// Mark records a fetch against the origin of rawURL, starting the
// spacing window that later Acquire calls wait out. Marker failures
// are logged and ignored.
func (l *Limiter) Mark(ctx context.Context, rawURL string) {
	origin := Origin(rawURL)
	if err := l.marker.MarkBusy(ctx, origin, l.cfg.TTL); err != nil {
		l.logger.Warn("rate limit mark failed",
			zap.String("origin", origin), zap.Error(err))
	}
}

// Origin derives the throttling key from a URL: the lowercased
// hostname. Invalid URLs share the "unknown" bucket.
func Origin(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// jitteredPause returns 1-2s so contending workers spread out.
func jitteredPause() time.Duration {
	base := time.Second
	n, err := rand.Int(rand.Reader, big.NewInt(int64(time.Second)))
	if err != nil {
		return base
	}
	return base + time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
