// Package metrics defines the observation-hooks surface the resource-control
// core exposes: queue throughput/backpressure, limiter waits, breaker state
// transitions, and retry attempts. Every layer takes a Recorder as an
// optional dependency; Nop discards everything.
package metrics

import "time"

// Recorder is consulted by boundedqueue, ratelimit, circuitbreaker, retry,
// and executor at the points §8 treats as testable properties.
type Recorder interface {
	// IncEnqueued records a successful BoundedQueue.Put for queue.
	IncEnqueued(queue string)
	// IncProcessed records a worker completing an item without error.
	IncProcessed(queue string)
	// IncErrors records a worker's fn returning an error for an item.
	IncErrors(queue string)
	// IncBackpressure records a Put that timed out waiting for room.
	IncBackpressure(queue string)
	// ObserveQueueWait records how long a Put or limiter acquire waited.
	ObserveQueueWait(queue string, d time.Duration)

	// IncTokenLimitHit records an acquire that had to wait for tokens.
	IncTokenLimitHit(limiterKey string)
	// IncConcurrencyHit records an Executor submission that had to wait on
	// the concurrency-ceiling semaphore.
	IncConcurrencyHit(executorName string)

	// ObserveBreakerTransition records a CircuitBreaker state change.
	ObserveBreakerTransition(breakerName, fromState, toState string)

	// IncRetryAttempt records one additional attempt taken by a RetryPolicy,
	// beyond the first.
	IncRetryAttempt(policyName string)
}

// NoopRecorder discards every observation. It is the default when no
// Recorder is configured.
type NoopRecorder struct{}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return NoopRecorder{} }

func (NoopRecorder) IncEnqueued(string)                              {}
func (NoopRecorder) IncProcessed(string)                             {}
func (NoopRecorder) IncErrors(string)                                {}
func (NoopRecorder) IncBackpressure(string)                          {}
func (NoopRecorder) ObserveQueueWait(string, time.Duration)          {}
func (NoopRecorder) IncTokenLimitHit(string)                         {}
func (NoopRecorder) IncConcurrencyHit(string)                        {}
func (NoopRecorder) ObserveBreakerTransition(string, string, string) {}
func (NoopRecorder) IncRetryAttempt(string)                          {}
