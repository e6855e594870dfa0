package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/regwatch/regwatch/internal/monitor"
)

// Pool fans queue work out to a fixed set of workers.
type Pool struct {
	queue   monitor.Queue
	workers []*Worker
}

// NewPool creates a Pool.
func NewPool(queue monitor.Queue, workers []*Worker) *Pool {
	return &Pool{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (p *Pool) Enqueue(ctx context.Context, item monitor.QueueItem) error {
	if err := p.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
