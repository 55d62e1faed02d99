package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rendis/jobflow/internal/logging"
)

// PoolMetrics is a snapshot of the async launch pool.
type PoolMetrics struct {
	Size      int   `json:"size"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool runs background launches with at most size of them in flight.
type WorkerPool struct {
	slots  chan struct{}
	stop   chan struct{}
	logger *slog.Logger

	// mu orders closing against wg.Add so Shutdown never misses a run.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	active, completed, failed, panics atomic.Int64
}

// NewWorkerPool creates a pool admitting size concurrent runs, at least one.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		slots:  make(chan struct{}, max(size, 1)),
		stop:   make(chan struct{}),
		logger: logger.With("component", "worker-pool"),
	}
}

// Submit waits for a free slot, then runs fn in its own goroutine. Waiting
// honours ctx; the run itself gets a context that outlives the caller.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrPoolShutdown
	}
	if !p.admit() {
		<-p.slots
		return ErrPoolShutdown
	}

	go p.execute(context.WithoutCancel(ctx), fn)
	return nil
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *WorkerPool) admit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	p.active.Add(1)
	return true
}

func (p *WorkerPool) execute(ctx context.Context, fn func(ctx context.Context) error) {
	defer func() {
		p.active.Add(-1)
		<-p.slots
		p.wg.Done()
	}()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(ctx)
	}()
	if err != nil {
		p.failed.Add(1)
		logging.LogWith(ctx, p.logger).WarnContext(ctx, "background launch failed", logging.Err(err))
		return
	}
	p.completed.Add(1)
}

// Wait blocks until every admitted run has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects further submissions and waits for running work.
// Calling it again is a no-op.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Metrics returns the current counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Size:      cap(p.slots),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
