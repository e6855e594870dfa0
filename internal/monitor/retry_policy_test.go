package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(0, 0, 0)
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts())
	assert.GreaterOrEqual(t, p.Backoff(0), DefaultBaseDelay)
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, time.Second, 8*time.Second)

	assert.False(t, p.ShouldRetry(nil, 0), "success never retries")
	assert.True(t, p.ShouldRetry(errors.New("503"), 0))
	assert.True(t, p.ShouldRetry(errors.New("timeout"), 1))
	assert.True(t, p.ShouldRetry(errors.New("503"), 2), "last budgeted retry")
	assert.False(t, p.ShouldRetry(errors.New("503"), 3), "budget of three retries is spent")
	assert.False(t, p.ShouldRetry(context.Canceled, 0), "shutdown is not retried")
	assert.False(t, p.ShouldRetry(errors.New("boom"), 10))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	base := time.Second
	maxDelay := 8 * time.Second
	p := NewRetryPolicy(10, base, maxDelay)

	for attempt, want := range []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second, // capped
		8 * time.Second,
	} {
		got := p.Backoff(attempt)
		assert.GreaterOrEqual(t, got, want, "attempt %d", attempt)
		assert.Less(t, got, want+want/10+time.Millisecond, "attempt %d jitter bound", attempt)
	}
}
