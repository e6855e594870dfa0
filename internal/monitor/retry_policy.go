package monitor

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Default retry budget for scrape jobs: five retries after the first
// run, with backoff doubling from 60s up to the 960s cap.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 60 * time.Second
	DefaultMaxDelay    = 960 * time.Second
)

// RetryPolicy implements jittered exponential backoff for job attempts.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy; non-positive arguments take defaults.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts returns the configured retry budget.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether a failed attempt gets another try.
// maxAttempts counts retries on top of the first run, so a job runs at
// most maxAttempts+1 times. Shutdown cancellation never retries;
// timeouts and source failures are both retried until the budget is
// spent, then dead-lettered.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns the wait before retrying the given zero-based attempt:
// min(maxDelay, baseDelay*2^attempt) plus jitter in [0, 10% of the delay).
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay) + randomJitter(time.Duration(delay/10))
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
