// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
)

// ErrClosed is returned by Dequeue once the queue has been shut down
// and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory job queue with context-aware operations.
// Its depth feeds the monitor_queue_depth gauge so a backed-up queue is
// visible before workers start timing out.
type Queue struct {
	ch      chan monitor.QueueItem
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan monitor.QueueItem, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item monitor.QueueItem) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		metrics.SetQueueDepth(len(q.ch))
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (monitor.QueueItem, error) {
	select {
	case <-ctx.Done():
		return monitor.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return monitor.QueueItem{}, ErrClosed
		}
		metrics.SetQueueDepth(len(q.ch))
		return item, nil
	}
}

// Len reports the number of jobs currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
