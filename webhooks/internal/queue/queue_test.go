package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_ConcurrencyCapUnderBurst(t *testing.T) {
	const limit = 4
	q := New(limit, nil)
	defer q.Shutdown(context.Background())

	var running, peak atomic.Int64
	var futures []*Future
	var submitWG sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		submitWG.Add(1)
		go func() {
			defer submitWG.Done()
			f, err := q.Submit(func(ctx context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			futures = append(futures, f)
			mu.Unlock()
		}()
	}
	submitWG.Wait()

	for _, f := range futures {
		require.NoError(t, f.Wait(context.Background()))
	}
	assert.LessOrEqual(t, peak.Load(), int64(limit))
	assert.Positive(t, peak.Load())
	assert.Equal(t, limit, q.Concurrency())
}

func TestQueue_FIFO(t *testing.T) {
	q := New(1, nil)
	defer q.Shutdown(context.Background())

	var mu sync.Mutex
	var order []int
	var last *Future
	for i := 0; i < 20; i++ {
		i := i
		f, err := q.Submit(func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
		last = f
	}
	require.NoError(t, last.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Len(t, order, 20)
}

func TestQueue_FailureAndPanicReleaseSlot(t *testing.T) {
	q := New(1, nil)
	defer q.Shutdown(context.Background())

	boom := errors.New("boom")
	failed, err := q.Submit(func(ctx context.Context) error { return boom })
	require.NoError(t, err)
	panicked, err := q.Submit(func(ctx context.Context) error { panic("kaboom") })
	require.NoError(t, err)
	ok, err := q.Submit(func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.ErrorIs(t, failed.Wait(ctx), boom)
	perr := panicked.Wait(ctx)
	require.Error(t, perr)
	assert.Contains(t, perr.Error(), "kaboom")
	assert.NoError(t, ok.Wait(ctx))
	assert.Equal(t, 0, q.Active())
}

func TestQueue_DepthAndActive(t *testing.T) {
	q := New(1, nil)
	release := make(chan struct{})

	_, err := q.Submit(func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := q.Submit(func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return q.Active() == 1 && q.Depth() == 3 }, time.Second, time.Millisecond)

	close(release)
	require.NoError(t, q.Shutdown(context.Background()))
	assert.Equal(t, 0, q.Depth())
	assert.Equal(t, 0, q.Active())
}

func TestQueue_ShutdownDrainsAndRejects(t *testing.T) {
	q := New(2, nil)

	var ran atomic.Int32
	var futures []*Future
	for i := 0; i < 10; i++ {
		f, err := q.Submit(func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	require.NoError(t, q.Shutdown(context.Background()))
	assert.EqualValues(t, 10, ran.Load())
	for _, f := range futures {
		select {
		case <-f.Done():
			assert.NoError(t, f.Err())
		default:
			t.Fatal("future not resolved after shutdown")
		}
	}

	_, err := q.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_ShutdownDeadlineCancelsRunning(t *testing.T) {
	q := New(1, nil)

	started := make(chan struct{})
	f, err := q.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	assert.ErrorIs(t, f.Wait(waitCtx), context.Canceled)
}

func TestFuture_AbandonedWaitDoesNotStopTask(t *testing.T) {
	q := New(1, nil)
	defer q.Shutdown(context.Background())

	proceed := make(chan struct{})
	var finished atomic.Bool
	f, err := q.Submit(func(ctx context.Context) error {
		<-proceed
		finished.Store(true)
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.Canceled)
	assert.Nil(t, f.Err())

	close(proceed)
	require.NoError(t, f.Wait(context.Background()))
	assert.True(t, finished.Load())
}
