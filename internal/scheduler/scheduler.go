// Package scheduler provides cancellable fixed-rate timers for the queue
// drain and the stream metadata poll.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Ticker calls a func immediately and then at a fixed rate until stopped.
// Start always cancels the previous run first, and calls of fn never overlap:
// a restarted ticker waits for a call still in flight before its first call.
type Ticker struct {
	name   string
	fn     func(ctx context.Context)
	logger logrus.FieldLogger

	// run is held while fn executes.
	run sync.Mutex

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	runs     int64
	lastRun  time.Time
}

// New creates a stopped ticker.
func New(name string, fn func(ctx context.Context), logger logrus.FieldLogger) *Ticker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ticker{
		name:   name,
		fn:     fn,
		logger: logger.WithField("component", "scheduler").WithField("ticker", name),
	}
}

// Start (re)starts the ticker with interval. It does not block.
func (t *Ticker) Start(interval time.Duration) {
	if interval <= 0 {
		t.logger.WithField("interval", interval).Warn("refusing to start with non-positive interval")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = cancel
	t.done = done
	t.interval = interval
	t.mu.Unlock()

	go t.loop(ctx, interval, done)
	t.logger.WithField("interval", interval).Debug("ticker started")
}

// Stop cancels the ticker. It does not block; a call in flight finishes on
// its own. Use Wait to block until it has.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		t.logger.Debug("ticker stopped")
	}
}

// Wait blocks until the most recent run has exited. It must not be called
// from fn.
func (t *Ticker) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
	t.run.Lock()
	t.run.Unlock()
}

// Running reports whether the ticker is started.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *Ticker) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Ticker) tick(ctx context.Context) {
	t.run.Lock()
	defer t.run.Unlock()

	if ctx.Err() != nil {
		return
	}
	t.fn(ctx)

	t.mu.Lock()
	t.runs++
	t.lastRun = time.Now()
	t.mu.Unlock()
}

// GetStats returns current ticker statistics.
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"name":     t.name,
		"running":  t.cancel != nil,
		"interval": t.interval.String(),
		"runs":     t.runs,
		"last_run": t.lastRun,
	}
}
