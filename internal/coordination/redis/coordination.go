// Package redis implements coordination primitives on a Redis server:
// the scheduler dispatch lock, the per-origin busy marker, and the
// dead letter queue.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/regwatch/regwatch/internal/monitor"
)

const deadLetterKey = "regwatch:dead_letter"

// Coordinator implements monitor.Locker, monitor.BusyMarker and
// monitor.DeadLetterQueue on a shared Redis client.
type Coordinator struct {
	client *redis.Client
}

// New builds a Coordinator from client options.
func New(opts *redis.Options) *Coordinator {
	return &Coordinator{client: redis.NewClient(opts)}
}

// NewWithClient wraps an existing client, mainly for tests.
func NewWithClient(client *redis.Client) *Coordinator {
	return &Coordinator{client: client}
}

// Close releases the underlying client.
func (c *Coordinator) Close() error {
	return c.client.Close()
}

// Ping verifies connectivity at startup.
func (c *Coordinator) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// TryLock acquires key with SET NX EX semantics. A false return means
// another holder owns the lock; the TTL bounds how long a crashed
// holder can keep it.
func (c *Coordinator) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Unlock releases key early. Expiry handles holders that never call it.
func (c *Coordinator) Unlock(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// IsBusy reports whether the origin was marked busy within its TTL.
func (c *Coordinator) IsBusy(ctx context.Context, origin string) (bool, error) {
	n, err := c.client.Exists(ctx, busyKey(origin)).Result()
	if err != nil {
		return false, fmt.Errorf("check busy %s: %w", origin, err)
	}
	return n > 0, nil
}

// MarkBusy marks the origin busy for the given TTL.
func (c *Coordinator) MarkBusy(ctx context.Context, origin string, ttl time.Duration) error {
	if err := c.client.Set(ctx, busyKey(origin), "1", ttl).Err(); err != nil {
		return fmt.Errorf("mark busy %s: %w", origin, err)
	}
	return nil
}

// Push appends a dead letter entry to the queue.
func (c *Coordinator) Push(ctx context.Context, entry monitor.DeadLetter) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := c.client.LPush(ctx, deadLetterKey, payload).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

// List returns the most recent dead letter entries, newest first.
func (c *Coordinator) List(ctx context.Context, limit int64) ([]monitor.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := c.client.LRange(ctx, deadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	entries := make([]monitor.DeadLetter, 0, len(raw))
	for _, item := range raw {
		var entry monitor.DeadLetter
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal dead letter: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func busyKey(origin string) string {
	return "regwatch:busy:" + origin
}
