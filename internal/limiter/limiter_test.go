package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/regwatch/regwatch/internal/metrics"
)

func init() {
	metrics.Init()
}

type fakeMarker struct {
	mu       sync.Mutex
	busy     map[string]bool
	busyErr  error
	markErr  error
	marked   []string
	checkers int
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{busy: make(map[string]bool)}
}

func (f *fakeMarker) IsBusy(_ context.Context, origin string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkers++
	if f.busyErr != nil {
		return false, f.busyErr
	}
	return f.busy[origin], nil
}

func (f *fakeMarker) MarkBusy(_ context.Context, origin string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, origin)
	return nil
}

func TestOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"FullURL", "https://WWW.Example.GOV/rules?page=2", "www.example.gov"},
		{"WithPort", "http://example.org:8080/x", "example.org"},
		{"BareHost", "example.org", "example.org"},
		{"Invalid", "://bad", "unknown"},
		{"Empty", "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Origin(tt.in))
		})
	}
}

func TestAcquireFreeOrigin(t *testing.T) {
	t.Parallel()

	marker := newFakeMarker()
	l := New(marker, Config{TTL: time.Second, MaxWait: time.Second}, zap.NewNop())

	require.NoError(t, l.Acquire(context.Background(), "https://example.gov/rules"))
	assert.Empty(t, marker.marked, "acquisition alone does not start the spacing window")
}

func TestMarkStartsSpacingWindow(t *testing.T) {
	t.Parallel()

	marker := newFakeMarker()
	l := New(marker, Config{TTL: time.Second, MaxWait: time.Second}, zap.NewNop())

	l.Mark(context.Background(), "https://example.gov/rules")
	assert.Equal(t, []string{"example.gov"}, marker.marked)
}

func TestMarkFailsOpen(t *testing.T) {
	t.Parallel()

	marker := newFakeMarker()
	marker.markErr = errors.New("redis down")
	l := New(marker, Config{TTL: time.Second, MaxWait: time.Second}, zap.NewNop())

	l.Mark(context.Background(), "https://example.gov")
	assert.Empty(t, marker.marked)
}

func TestAcquireWaitsForBusyOrigin(t *testing.T) {
	t.Parallel()

	marker := newFakeMarker()
	marker.busy["example.gov"] = true

	l := New(marker, Config{TTL: time.Second, MaxWait: time.Minute}, zap.NewNop())
	// Free the origin after the second check instead of sleeping.
	calls := 0
	l.sleep = func(_ context.Context, _ time.Duration) error {
		calls++
		marker.mu.Lock()
		marker.busy["example.gov"] = false
		marker.mu.Unlock()
		return nil
	}

	require.NoError(t, l.Acquire(context.Background(), "https://example.gov"))
	assert.Equal(t, 1, calls)
}

func TestAcquireFailsOpenOnCheckError(t *testing.T) {
	t.Parallel()

	marker := newFakeMarker()
	marker.busyErr = errors.New("redis down")

	l := New(marker, Config{TTL: time.Second, MaxWait: time.Second}, zap.NewNop())
	require.NoError(t, l.Acquire(context.Background(), "https://example.gov"))
}

func TestAcquireRespectsCancellation(t *testing.T) {
	t.Parallel()

	marker := newFakeMarker()
	marker.busy["example.gov"] = true

	l := New(marker, Config{TTL: time.Second, MaxWait: time.Minute}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Acquire(ctx, "https://example.gov")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireGivesUpAfterMaxWait(t *testing.T) {
	t.Parallel()

	marker := newFakeMarker()
	marker.busy["example.gov"] = true

	l := New(marker, Config{TTL: time.Second, MaxWait: time.Nanosecond}, zap.NewNop())
	l.sleep = func(_ context.Context, _ time.Duration) error { return nil }

	require.NoError(t, l.Acquire(context.Background(), "https://example.gov"))
	assert.GreaterOrEqual(t, marker.checkers, 1, "proceeds after budget is spent")
}
