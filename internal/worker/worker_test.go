package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestPool_ReturnsValue(t *testing.T) {
	p := NewPool(2, quietLogger())
	defer p.Close()

	f := p.Go(func(ctx context.Context) (interface{}, error) { return "body", nil })
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "body", v)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const size = 3
	p := NewPool(size, quietLogger())
	defer p.Close()

	var running, peak int64
	var futures []*Future
	for i := 0; i < 12; i++ {
		futures = append(futures, p.Go(func(ctx context.Context) (interface{}, error) {
			n := atomic.AddInt64(&running, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			return nil, nil
		}))
	}
	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(size))
	assert.Equal(t, int64(12), p.GetStats()["completed"])
}

func TestPool_RecoversPanic(t *testing.T) {
	p := NewPool(1, quietLogger())
	defer p.Close()

	f := p.Go(func(ctx context.Context) (interface{}, error) { panic("boom") })
	_, err := f.Wait(context.Background())
	assert.Error(t, err)

	// The pool keeps working after a panic.
	f = p.Go(func(ctx context.Context) (interface{}, error) { return 1, nil })
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPool_CloseCancelsTasks(t *testing.T) {
	p := NewPool(1, quietLogger())

	started := make(chan struct{})
	f := p.Go(func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	p.Close()

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)

	f = p.Go(func(ctx context.Context) (interface{}, error) { return nil, nil })
	_, err = f.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	p := NewPool(1, quietLogger())
	defer p.Close()

	release := make(chan struct{})
	defer close(release)
	f := p.Go(func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMainLoop_SerializesAndReportsInLoop(t *testing.T) {
	m := NewMainLoop(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	assert.False(t, m.InLoop())

	var mu sync.Mutex
	var order []int
	var inLoop []bool
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		m.Post(func() {
			mu.Lock()
			order = append(order, i)
			inLoop = append(inLoop, m.InLoop())
			mu.Unlock()
			if i == 4 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main loop did not run posted funcs")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	for _, v := range inLoop {
		assert.True(t, v)
	}
}

func TestMainLoop_PostFromLoopRunsLater(t *testing.T) {
	m := NewMainLoop(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	var steps []string
	done := make(chan struct{})
	m.Post(func() {
		m.Post(func() {
			steps = append(steps, "inner")
			close(done)
		})
		steps = append(steps, "outer")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested post never ran")
	}
	assert.Equal(t, []string{"outer", "inner"}, steps)
}

func TestMainLoop_SurvivesPanic(t *testing.T) {
	m := NewMainLoop(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	done := make(chan struct{})
	m.Post(func() { panic("boom") })
	m.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main loop stopped after a panic")
	}
}

func TestMainLoop_PostFromLoopNeverDrops(t *testing.T) {
	m := NewMainLoop(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	const n = mainLoopCap * 3
	var ran int32
	done := make(chan struct{})
	m.Post(func() {
		for i := 0; i < n; i++ {
			m.Post(func() {
				if atomic.AddInt32(&ran, 1) == n {
					close(done)
				}
			})
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ran %d of %d funcs posted from the loop", atomic.LoadInt32(&ran), n)
	}
}

func TestMainLoop_PostWaitsForRoom(t *testing.T) {
	m := NewMainLoop(quietLogger())

	const n = mainLoopCap * 2
	var ran int32
	posted := make(chan struct{})
	go func() {
		defer close(posted)
		for i := 0; i < n; i++ {
			m.Post(func() { atomic.AddInt32(&ran, 1) })
		}
	}()

	select {
	case <-posted:
		t.Fatal("post returned with the loop full and not running")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case <-posted:
	case <-time.After(2 * time.Second):
		t.Fatal("post stayed blocked after the loop started")
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == n }, 2*time.Second, 5*time.Millisecond)
}

func TestMainLoop_PostAfterStopReturns(t *testing.T) {
	m := NewMainLoop(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	returned := make(chan struct{})
	go func() {
		for i := 0; i < mainLoopCap+1; i++ {
			m.Post(func() {})
		}
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("post blocked on a stopped loop")
	}
}
