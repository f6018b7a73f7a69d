// Package worker provides the bounded background pool and the main loop that
// serializes session state changes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Go after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Future is the pending result of a pool task.
type Future struct {
	done  chan struct{}
	value interface{}
	err   error
}

// Done is closed when the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pool runs tasks on at most size goroutines at a time.
type Pool struct {
	sem    *semaphore.Weighted
	size   int64
	logger logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active    int64
	completed int64
	closed    int32
}

// NewPool creates a pool of the given size.
func NewPool(size int, logger logrus.FieldLogger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   int64(size),
		logger: logger.WithField("component", "worker"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go schedules fn. It never blocks the caller; the task waits for a free slot
// on its own goroutine. fn receives a context cancelled by Close.
func (p *Pool) Go(fn func(ctx context.Context) (interface{}, error)) *Future {
	f := &Future{done: make(chan struct{})}
	if atomic.LoadInt32(&p.closed) == 1 {
		f.err = ErrPoolClosed
		close(f.done)
		return f
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(f.done)

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			f.err = err
			return
		}
		defer p.sem.Release(1)

		atomic.AddInt64(&p.active, 1)
		defer atomic.AddInt64(&p.active, -1)
		defer atomic.AddInt64(&p.completed, 1)

		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("task panicked: %v", r)
				p.logger.WithField("panic", r).Error("worker task panicked")
			}
		}()
		f.value, f.err = fn(p.ctx)
	}()
	return f
}

// Close cancels running tasks and waits for them to return.
func (p *Pool) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}
	p.cancel()
	p.wg.Wait()
}

// GetStats returns current pool statistics.
func (p *Pool) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"size":      p.size,
		"active":    atomic.LoadInt64(&p.active),
		"completed": atomic.LoadInt64(&p.completed),
	}
}
