// Package executor submits ApiCall events onto a BoundedQueue under an
// optional concurrency ceiling, and tracks every submitted event to exactly
// one terminal outcome.
package executor

import (
	"context"
	"sync"

	"apicore/pkg/apicall"
	"apicore/pkg/boundedqueue"
	"apicore/pkg/config"
	"apicore/pkg/coreerr"
	"apicore/pkg/logx"
	"apicore/pkg/metrics"
)

// Executor owns a BoundedQueue of ApiCalls plus the map of every event it
// has ever accepted, keyed by id. A semaphore sized by cfg.ConcurrencyLimit
// (when positive) bounds how many events run process_event concurrently,
// independent of how many queue workers are pulling from the channel.
type Executor struct {
	queue  *boundedqueue.Queue[*apicall.ApiCall]
	logger *logx.Logger

	mu      sync.Mutex
	events  map[string]*apicall.ApiCall
	pending map[string]struct{}

	sem chan struct{} // nil when no concurrency ceiling configured

	workerCount int

	metrics metrics.Recorder
	name    string
}

// New constructs an Executor from cfg, failing immediately on an invalid
// queue configuration.
func New(cfg config.Queue, logger *logx.Logger) (*Executor, error) {
	q, err := boundedqueue.New[*apicall.ApiCall](cfg, logger)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logx.Nop()
	}

	var sem chan struct{}
	if cfg.ConcurrencyLimit > 0 {
		sem = make(chan struct{}, cfg.ConcurrencyLimit)
	}

	workerCount := cfg.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}

	return &Executor{
		queue:       q,
		logger:      logger,
		events:      make(map[string]*apicall.ApiCall),
		pending:     make(map[string]struct{}),
		sem:         sem,
		workerCount: workerCount,
		metrics:     metrics.Nop(),
		name:        "executor",
	}, nil
}

// WithMetrics attaches a Recorder that observes concurrency-ceiling
// contention, labeled with name, and propagates it to the underlying queue.
func (e *Executor) WithMetrics(rec metrics.Recorder, name string) *Executor {
	if rec != nil {
		e.metrics = rec
	}
	if name != "" {
		e.name = name
	}
	e.queue.WithMetrics(e.metrics, e.name)
	return e
}

// Start launches the queue's worker pool, each worker running ProcessEvent
// on whatever ApiCall it dequeues.
func (e *Executor) Start(ctx context.Context) error {
	return e.queue.StartWorkers(ctx, e.workerCount, func(workerCtx context.Context, call *apicall.ApiCall) error {
		return e.ProcessEvent(workerCtx, call)
	}, func(item any, err error) {
		if call, ok := item.(*apicall.ApiCall); ok {
			e.logger.Warnf("executor: event %s processing error: %v", call.ID, err)
		}
	})
}

// Stop stops accepting new work and tears the queue down. It is idempotent.
func (e *Executor) Stop() {
	e.queue.Stop()
}

// Join blocks until every queue worker has returned, which happens after
// Stop or once the context given to Start is done, or until ctx is
// cancelled. It does not drain: events still buffered in the queue when Stop
// is called are not run and stay Pending.
func (e *Executor) Join(ctx context.Context) error {
	return e.queue.Join(ctx)
}

// Append registers call in the event map and pending set. A call reaches a
// terminal state at most once: through ProcessEvent, or marked Failed when
// Forward or RateLimitedExecutor.Submit's limiter wait fails. A call still
// buffered in the queue when Stop is called is not run and stays Pending.
func (e *Executor) Append(call *apicall.ApiCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[call.ID] = call
	e.pending[call.ID] = struct{}{}
}

// Pop returns the ApiCall registered under id, if any.
func (e *Executor) Pop(id string) (*apicall.ApiCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	call, ok := e.events[id]
	return call, ok
}

// Forward drains a pending call into the queue, blocking up to the queue's
// enqueue timeout. On backpressure the event is marked Failed with a
// Backpressure error rather than retried — callers that need at-least-once
// delivery under saturation should re-submit a fresh ApiCall rather than
// rely on Forward to retry internally.
func (e *Executor) Forward(ctx context.Context, call *apicall.ApiCall) error {
	if err := e.queue.Put(ctx, call); err != nil {
		call.MarkFailed(err)
		e.removePending(call.ID)
		return err
	}
	return nil
}

// ProcessEvent is the worker path: Pending -> Running -> terminal. Invoke
// captures any failure into the call's terminal state; ProcessEvent also
// returns that error so the queue worker counts it and hands it to the error
// handler, where it stops.
func (e *Executor) ProcessEvent(ctx context.Context, call *apicall.ApiCall) error {
	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		default:
			e.metrics.IncConcurrencyHit(e.name)
			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				call.MarkCancelled(ctx.Err())
				e.removePending(call.ID)
				return coreerr.WithCause(coreerr.KindCancelled, ctx.Err(), "concurrency ceiling wait cancelled")
			}
		}
	}

	_, err := call.Invoke(ctx)
	e.removePending(call.ID)
	return err
}

func (e *Executor) removePending(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, id)
}

// IsAllProcessed reports whether every appended event has left the pending
// set (reached a terminal state or been forwarded to completion).
func (e *Executor) IsAllProcessed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) == 0
}

// Counters exposes the underlying queue's cumulative counters.
func (e *Executor) Counters() boundedqueue.Counters {
	return e.queue.Counters()
}
