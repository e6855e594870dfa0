package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regwatch/regwatch/internal/metrics"
	"github.com/regwatch/regwatch/internal/monitor"
)

func init() {
	metrics.Init()
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan monitor.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	item := monitor.QueueItem{JobID: "job-1", SourceID: "src-1"}
	require.NoError(t, q.Enqueue(context.Background(), item))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		assert.Equal(t, item, got)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueLenTracksBufferedJobs(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	assert.Zero(t, q.Len())

	require.NoError(t, q.Enqueue(context.Background(), monitor.QueueItem{JobID: "job-1"}))
	require.NoError(t, q.Enqueue(context.Background(), monitor.QueueItem{JobID: "job-2"}))
	assert.Equal(t, 2, q.Len())

	_, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue(1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), monitor.QueueItem{JobID: "primed"}))
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	err = qEnqueue.Enqueue(ctx, monitor.QueueItem{})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	// Closing twice should be safe.
	q.Close()
}
