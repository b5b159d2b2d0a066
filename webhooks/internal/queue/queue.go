// Package queue is the admission queue: a single FIFO drained by a fixed
// number of workers, so at most that many tasks run at once.
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/metrics"
)

// DefaultConcurrency is the worker count when none is configured.
const DefaultConcurrency = 15

// ErrClosed is returned by Submit after Shutdown has begun.
var ErrClosed = errors.New("admission queue closed")

// Task is a unit of work. ctx is cancelled only when Shutdown's deadline
// expires before the task finishes.
type Task func(ctx context.Context) error

// Future resolves once its task has run.
type Future struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the task's error. It is only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done. Abandoning a Future
// does not stop its task.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type job struct {
	task   Task
	future *Future
}

// Queue holds an unbounded backlog; tasks start strictly in submission order.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending *list.List
	closed  bool

	workers int
	active  atomic.Int64
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// New starts concurrency workers. Non-positive values use DefaultConcurrency.
func New(concurrency int, logger *slog.Logger) *Queue {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		pending: list.New(),
		workers: concurrency,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.OrDiscard(logger),
	}
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go q.worker()
	}
	return q
}

// Submit appends task to the backlog.
func (q *Queue) Submit(task Task) (*Future, error) {
	f := &Future{done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.pending.PushBack(job{task: task, future: f})
	depth := q.pending.Len()
	q.mu.Unlock()

	metrics.QueueDepth.Set(float64(depth))
	q.cond.Signal()
	return f, nil
}

// Depth is the number of tasks waiting for a worker.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Active is the number of tasks currently running.
func (q *Queue) Active() int {
	return int(q.active.Load())
}

// Concurrency is the worker count.
func (q *Queue) Concurrency() int {
	return q.workers
}

// Shutdown stops intake and waits for the backlog to drain. If ctx expires
// first, running tasks' contexts are cancelled and ctx.Err is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		q.logger.Warn("admission queue shutdown deadline exceeded",
			slog.Int("pending", q.Depth()), slog.Int("active", q.Active()))
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for q.pending.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.pending.Len() == 0 {
			q.mu.Unlock()
			return
		}
		j := q.pending.Remove(q.pending.Front()).(job)
		depth := q.pending.Len()
		q.mu.Unlock()

		metrics.QueueDepth.Set(float64(depth))
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	metrics.ActiveWorkers.Set(float64(q.active.Add(1)))
	defer func() {
		metrics.ActiveWorkers.Set(float64(q.active.Add(-1)))
		close(j.future.done)
	}()
	defer func() {
		if r := recover(); r != nil {
			j.future.err = fmt.Errorf("task panicked: %v", r)
			q.logger.Error("admission queue task panicked",
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
		}
	}()

	j.future.err = j.task(q.ctx)
}
