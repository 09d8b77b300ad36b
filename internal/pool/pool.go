// Package pool provides a bounded worker pool for background dispatch.
// Spawned units are owned by the pool: Close cancels intake and awaits
// every in-flight unit, so no fire-and-forget goroutine outlives it.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = fmt.Errorf("pool is closed")
	ErrPoolFull   = fmt.Errorf("pool queue is full")
)

// Unit is a unit of background work.
type Unit func(ctx context.Context) error

type unitWrapper struct {
	unit Unit
	ctx  context.Context
	done chan error
}

// Config configures a WorkPool.
type Config struct {
	MaxWorkers int `json:"max_workers"`
	QueueSize  int `json:"queue_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxWorkers: 16, QueueSize: 256}
}

// WorkPool runs units on a bounded set of worker goroutines.
type WorkPool struct {
	maxWorkers int
	queue      chan unitWrapper
	workers    atomic.Int32
	closed     atomic.Bool
	wg         sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New creates a WorkPool.
func New(cfg Config) *WorkPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &WorkPool{
		maxWorkers: cfg.MaxWorkers,
		queue:      make(chan unitWrapper, cfg.QueueSize),
	}
}

// Submit enqueues a unit without waiting for its completion.
func (p *WorkPool) Submit(ctx context.Context, unit Unit) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)
	w := unitWrapper{unit: unit, ctx: ctx}
	select {
	case p.queue <- w:
		p.ensureWorker()
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// SubmitWait enqueues a unit and waits for it to finish.
func (p *WorkPool) SubmitWait(ctx context.Context, unit Unit) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)
	w := unitWrapper{unit: unit, ctx: ctx, done: make(chan error, 1)}
	select {
	case p.queue <- w:
		p.ensureWorker()
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkPool) ensureWorker() {
	for {
		current := p.workers.Load()
		if current >= int32(p.maxWorkers) {
			return
		}
		if p.workers.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return
		}
	}
}

func (p *WorkPool) worker() {
	defer p.wg.Done()
	defer p.workers.Add(-1)
	for w := range p.queue {
		err := p.run(w)
		if w.done != nil {
			w.done <- err
			close(w.done)
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

// run executes one unit, converting a panic into an error so a bad
// handler never takes the worker down.
func (p *WorkPool) run(w unitWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	return w.unit(w.ctx)
}

// Close stops intake and waits for in-flight units to finish.
func (p *WorkPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// Stats contains cumulative pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// Stats returns a snapshot of pool statistics.
func (p *WorkPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workers.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
