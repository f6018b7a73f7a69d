package worker

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const mainLoopCap = 256

// MainLoop runs posted funcs one at a time on a single goroutine.
type MainLoop struct {
	funcs  chan func()
	gid    uint64
	logger logrus.FieldLogger

	// backlog holds funcs posted by the loop itself while funcs is full.
	// Only the loop goroutine touches it.
	backlog []func()

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewMainLoop creates a loop. Call Run to start it.
func NewMainLoop(logger logrus.FieldLogger) *MainLoop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MainLoop{
		funcs:   make(chan func(), mainLoopCap),
		logger:  logger.WithField("component", "mainloop"),
		stopped: make(chan struct{}),
	}
}

// Run drains posted funcs until ctx is done.
func (m *MainLoop) Run(ctx context.Context) error {
	atomic.StoreUint64(&m.gid, goroutineID())
	defer atomic.StoreUint64(&m.gid, 0)
	defer m.stopOnce.Do(func() { close(m.stopped) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-m.funcs:
			m.run(fn)
		}
		for len(m.backlog) > 0 {
			fn := m.backlog[0]
			m.backlog = m.backlog[1:]
			m.run(fn)
		}
	}
}

func (m *MainLoop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("panic", r).Error("main loop func panicked")
		}
	}()
	fn()
}

// Post queues fn. Called on the loop itself, fn is queued behind the current
// func rather than run inline, and never blocks. Called from any other
// goroutine, Post waits for room in the queue. Funcs posted after Run has
// returned are discarded.
func (m *MainLoop) Post(fn func()) {
	if m.InLoop() {
		if len(m.backlog) == 0 {
			select {
			case m.funcs <- fn:
				return
			default:
			}
		}
		m.backlog = append(m.backlog, fn)
		return
	}

	select {
	case m.funcs <- fn:
	case <-m.stopped:
		m.logger.Debug("main loop stopped, discarding func")
	}
}

// InLoop reports whether the caller runs on the loop goroutine.
func (m *MainLoop) InLoop() bool {
	gid := atomic.LoadUint64(&m.gid)
	return gid != 0 && gid == goroutineID()
}

// goroutineID parses the id from the stack header "goroutine N [...]".
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
