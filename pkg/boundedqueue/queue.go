// Package boundedqueue implements a bounded FIFO queue with backpressure and
// a managed worker pool, the front door through which callers submit work to
// the rest of the resource-control stack.
package boundedqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"apicore/pkg/clock"
	"apicore/pkg/config"
	"apicore/pkg/coreerr"
	"apicore/pkg/logx"
	"apicore/pkg/metrics"
)

// Lifecycle is the queue's run state.
type Lifecycle int8

const (
	Idle Lifecycle = iota
	Processing
	Stopped
)

func (s Lifecycle) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Counters are cumulative operation counts, safe for concurrent read while
// the queue is running.
type Counters struct {
	Enqueued          int64
	Processed         int64
	Errors            int64
	BackpressureEvents int64
}

// Queue is a bounded, FIFO, backpressure-aware work queue. Put blocks for at
// most enqueueTimeout when the queue is full before returning a
// KindBackpressure error — backpressure surfaces as a timeout, not a hard
// failure, so callers can choose to retry, shed, or propagate.
type Queue[T any] struct {
	items chan T
	clock clock.Clock

	enqueueTimeout time.Duration
	logger         *logx.Logger

	metrics metrics.Recorder
	name    string

	mu    sync.Mutex
	state Lifecycle
	wg    sync.WaitGroup
	stop  chan struct{}

	enqueued           int64
	processed          int64
	errCount           int64
	backpressureEvents int64
}

// New creates a Queue from cfg, failing immediately on an invalid
// configuration.
func New[T any](cfg config.Queue, logger *logx.Logger) (*Queue[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Queue[T]{
		items:          make(chan T, cfg.Capacity),
		clock:          clock.Default,
		enqueueTimeout: cfg.EnqueueTimeout,
		logger:         logger,
		metrics:        metrics.Nop(),
		name:           "queue",
		state:          Idle,
		stop:           make(chan struct{}),
	}, nil
}

// WithMetrics attaches a Recorder that observes enqueue/processed/error/
// backpressure counts and enqueue wait time, labeled with name.
func (q *Queue[T]) WithMetrics(rec metrics.Recorder, name string) *Queue[T] {
	if rec != nil {
		q.metrics = rec
	}
	if name != "" {
		q.name = name
	}
	return q
}

// Put enqueues item, waiting up to the configured enqueue timeout for room.
// If the queue is still full when the timeout elapses, Put returns a
// KindBackpressure error and the item is not enqueued. A cancelled ctx
// aborts the wait with a KindCancelled error. Put is only valid while the
// queue is Processing; called outside that state (before StartWorkers, or
// after Stop) it fails immediately with KindInvalidState, mirroring the
// StartWorkers gate.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	q.mu.Lock()
	if q.state != Processing {
		q.mu.Unlock()
		return coreerr.New(coreerr.KindInvalidState, "queue is not processing")
	}
	q.mu.Unlock()

	select {
	case q.items <- item:
		atomic.AddInt64(&q.enqueued, 1)
		q.metrics.IncEnqueued(q.name)
		return nil
	case <-q.stop:
		return coreerr.New(coreerr.KindInvalidState, "queue is stopped")
	default:
	}

	start := q.clock.Now()
	timer := q.clock.NewTimer(q.enqueueTimeout)
	defer timer.Stop()

	select {
	case q.items <- item:
		atomic.AddInt64(&q.enqueued, 1)
		q.metrics.IncEnqueued(q.name)
		q.metrics.ObserveQueueWait(q.name, q.clock.Now().Sub(start))
		return nil
	case <-timer.C:
		atomic.AddInt64(&q.backpressureEvents, 1)
		q.metrics.IncBackpressure(q.name)
		return coreerr.New(coreerr.KindBackpressure, "queue full, enqueue timed out")
	case <-ctx.Done():
		return coreerr.WithCause(coreerr.KindCancelled, ctx.Err(), "enqueue cancelled")
	case <-q.stop:
		return coreerr.New(coreerr.KindInvalidState, "queue is stopped")
	}
}

// Get dequeues the next item, blocking until one is available, the queue is
// stopped, or ctx is cancelled. Called outside Processing, or woken by Stop
// before an item arrived, it fails with KindInvalidState. The second return
// is false whenever an error is returned.
func (q *Queue[T]) Get(ctx context.Context) (T, bool, error) {
	var zero T
	q.mu.Lock()
	state := q.state
	q.mu.Unlock()
	if state != Processing {
		return zero, false, coreerr.New(coreerr.KindInvalidState, "queue is not processing")
	}
	select {
	case item := <-q.items:
		return item, true, nil
	case <-q.stop:
		return zero, false, coreerr.New(coreerr.KindInvalidState, "queue is stopped")
	case <-ctx.Done():
		return zero, false, coreerr.WithCause(coreerr.KindCancelled, ctx.Err(), "dequeue cancelled")
	}
}

// Acknowledge marks one dequeued item as handled. Every successful Get must
// be paired with exactly one Acknowledge call, whether or not the handler
// itself reported an error; success selects whether the item is counted as
// processed or as an error.
func (q *Queue[T]) Acknowledge(success bool) {
	if !success {
		atomic.AddInt64(&q.errCount, 1)
		q.metrics.IncErrors(q.name)
		return
	}
	atomic.AddInt64(&q.processed, 1)
	q.metrics.IncProcessed(q.name)
}

// ErrorHandler is invoked when a worker's handler function returns an error.
type ErrorHandler func(item any, err error)

// StartWorkers launches n workers, each looping Get -> fn -> Acknowledge
// until the queue is stopped or ctx is done. It transitions the queue from
// Idle to Processing; calling StartWorkers more than once returns
// KindInvalidState.
func (q *Queue[T]) StartWorkers(ctx context.Context, n int, fn func(context.Context, T) error, onError ErrorHandler) error {
	q.mu.Lock()
	if q.state != Idle {
		q.mu.Unlock()
		return coreerr.New(coreerr.KindInvalidState, "queue is not idle")
	}
	q.state = Processing
	q.mu.Unlock()

	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.worker(ctx, fn, onError)
	}
	return nil
}

func (q *Queue[T]) worker(ctx context.Context, fn func(context.Context, T) error, onError ErrorHandler) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		item, ok, err := q.Get(ctx)
		if err != nil {
			return
		}
		if !ok {
			return
		}

		err = fn(ctx, item)
		q.Acknowledge(err == nil)
		if err != nil {
			q.logger.Warnf("queue worker error: %v", err)
			if onError != nil {
				onError(item, err)
			}
		}
	}
}

// Stop transitions the queue to Stopped and closes the stop signal so
// blocked workers and in-flight Put/Get calls wake immediately: workers
// exit without draining whatever remains buffered (Stop cancels, it does
// not flush). Stop is idempotent: a second call is a no-op. The item
// channel itself is never closed, so a Put racing a concurrent Stop can
// never panic on a send to a closed channel — it instead observes either
// the Processing-state guard or the closed stop signal and returns
// KindInvalidState.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if q.state == Stopped {
		q.mu.Unlock()
		return
	}
	q.state = Stopped
	close(q.stop)
	q.mu.Unlock()
}

// Join blocks until every started worker has returned, or ctx is cancelled.
func (q *Queue[T]) Join(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return coreerr.WithCause(coreerr.KindCancelled, ctx.Err(), "queue join cancelled")
	}
}

// State returns the queue's current lifecycle state.
func (q *Queue[T]) State() Lifecycle {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Counters returns a snapshot of the queue's cumulative operation counts.
func (q *Queue[T]) Counters() Counters {
	return Counters{
		Enqueued:           atomic.LoadInt64(&q.enqueued),
		Processed:          atomic.LoadInt64(&q.processed),
		Errors:             atomic.LoadInt64(&q.errCount),
		BackpressureEvents: atomic.LoadInt64(&q.backpressureEvents),
	}
}

// Len reports the number of items currently buffered in the queue.
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap reports the queue's configured capacity.
func (q *Queue[T]) Cap() int { return cap(q.items) }
