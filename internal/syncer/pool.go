package syncer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool defaults.
const (
	DefaultWorkers    = 4
	DefaultQueueDepth = 64
)

// Pool is the bounded worker pool shared by all folder synchronizers.
// Submit blocks once workers+queueDepth tasks are outstanding, which is
// what lets a bulk scan's directory walk backpressure instead of
// buffering an entire folder listing in memory.
type Pool struct {
	sem      *semaphore.Weighted
	capacity int64
	group    errgroup.Group

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool running at most workers tasks concurrently and
// admitting at most queueDepth additional waiting tasks.
func NewPool(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}

	p := &Pool{
		sem:      semaphore.NewWeighted(int64(workers + queueDepth)),
		capacity: int64(workers + queueDepth),
	}
	p.group.SetLimit(workers)
	return p
}

// Submit schedules fn, blocking while the pool is at capacity. Returns
// the context error if ctx is done before a slot frees.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return context.Canceled
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	// group.Go blocks until a worker slot is free; the semaphore above
	// bounds how many goroutines can wait here. The slot is released
	// when fn completes, so Drain waits for running tasks too.
	go func() {
		p.group.Go(func() error {
			defer p.sem.Release(1)
			fn()
			return nil
		})
	}()
	return nil
}

// Drain waits until every submitted task has finished or ctx is done.
// The pool stays usable afterwards.
func (p *Pool) Drain(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, p.capacity); err != nil {
		return err
	}
	p.sem.Release(p.capacity)
	return nil
}

// Close rejects new submissions and waits for outstanding tasks.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Drain(ctx)
}
