// Package memory provides in-process coordination primitives for
// local development and tests. Single-process only.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/regwatch/regwatch/internal/monitor"
)

// Coordinator implements monitor.Locker, monitor.BusyMarker and
// monitor.DeadLetterQueue with in-process state.
type Coordinator struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	letters []monitor.DeadLetter
	now     func() time.Time
}

// New creates a Coordinator using the wall clock.
func New() *Coordinator {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Coordinator with an injected clock for tests.
func NewWithClock(now func() time.Time) *Coordinator {
	return &Coordinator{
		expiry: make(map[string]time.Time),
		now:    now,
	}
}

// TryLock acquires key unless a live holder exists.
func (c *Coordinator) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := c.expiry["lock:"+key]; ok && c.now().Before(deadline) {
		return false, nil
	}
	c.expiry["lock:"+key] = c.now().Add(ttl)
	return true, nil
}

// Unlock releases key.
func (c *Coordinator) Unlock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.expiry, "lock:"+key)
	return nil
}

// IsBusy reports whether origin has a live busy marker.
func (c *Coordinator) IsBusy(_ context.Context, origin string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.expiry["busy:"+origin]
	return ok && c.now().Before(deadline), nil
}

// MarkBusy marks origin busy for ttl.
func (c *Coordinator) MarkBusy(_ context.Context, origin string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiry["busy:"+origin] = c.now().Add(ttl)
	return nil
}

// Push appends a dead letter entry.
func (c *Coordinator) Push(_ context.Context, entry monitor.DeadLetter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Newest first, matching the list semantics of the Redis queue.
	c.letters = append([]monitor.DeadLetter{entry}, c.letters...)
	return nil
}

// List returns up to limit dead letter entries, newest first.
func (c *Coordinator) List(_ context.Context, limit int64) ([]monitor.DeadLetter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > int64(len(c.letters)) {
		limit = int64(len(c.letters))
	}
	out := make([]monitor.DeadLetter, limit)
	copy(out, c.letters[:limit])
	return out, nil
}
