// Package ratelimit provides token-bucket rate limiting: a single limiter
// (TokenBucketLimiter), a keyed registry of limiters scoped per endpoint
// (EndpointLimiter), and a header-driven rate adjuster (AdaptiveLimiter).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"apicore/pkg/clock"
	"apicore/pkg/config"
	"apicore/pkg/coreerr"
	"apicore/pkg/logx"
	"apicore/pkg/metrics"
)

// TokenBucketLimiter grants or delays permission proportional to a requested
// token cost. Tokens refill continuously at rate/period and are capped at the
// bucket's configured capacity. A single mutex serializes refill-then-decide
// so concurrent waiters never oversubscribe the bucket.
type TokenBucketLimiter struct {
	mu sync.Mutex

	rate       float64 // tokens per period, mutable via SetRate (AdaptiveLimiter)
	period     float64 // seconds
	capacity   float64
	tokens     float64
	lastRefill time.Time

	clock  clock.Clock
	logger *logx.Logger

	metrics metrics.Recorder
	name    string

	tokenLimitHits int64
}

// New creates a TokenBucketLimiter from cfg, failing immediately on an invalid
// configuration (non-positive rate/period, or capacity below rate).
func New(cfg config.Limiter, logger *logx.Logger) (*TokenBucketLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &TokenBucketLimiter{
		rate:       float64(cfg.Rate),
		period:     cfg.PeriodSeconds,
		capacity:   float64(cfg.EffectiveMaxTokens()),
		tokens:     float64(cfg.EffectiveMaxTokens()), // start with a full bucket
		lastRefill: clock.Default.Now(),
		clock:      clock.Default,
		logger:     logger,
		metrics:    metrics.Nop(),
		name:       "limiter",
	}, nil
}

// WithClock overrides the clock source, used by tests to avoid real sleeps.
func (l *TokenBucketLimiter) WithClock(c clock.Clock) *TokenBucketLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = c
	l.lastRefill = c.Now()
	return l
}

// WithMetrics attaches a Recorder that observes token-limit hits and
// acquisition wait time, labeled with name.
func (l *TokenBucketLimiter) WithMetrics(rec metrics.Recorder, name string) *TokenBucketLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec != nil {
		l.metrics = rec
	}
	if name != "" {
		l.name = name
	}
	return l
}

// refill adds elapsed·(rate/period) tokens, capped at capacity. Must be called
// under l.mu. It is idempotent under a repeated identical clock reading: a
// zero or negative elapsed duration adds nothing.
func (l *TokenBucketLimiter) refill() {
	now := l.clock.Now()
	elapsed := now.Sub(l.lastRefill)
	l.lastRefill = now
	if elapsed <= 0 {
		return
	}
	added := elapsed.Seconds() * (l.rate / l.period)
	l.tokens += added
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
}

// Acquire refills the bucket then either grants the requested cost immediately
// (decrementing tokens and returning a zero wait) or reports the exact wait
// needed before the deficit will have refilled, WITHOUT decrementing tokens.
// Callers that intend to wait must sleep the returned duration and call
// Acquire again; Acquire itself never sleeps.
func (l *TokenBucketLimiter) Acquire(n int) (time.Duration, error) {
	if n < 1 {
		return 0, coreerr.New(coreerr.KindInvalidArgument, "acquire cost must be >= 1")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	cost := float64(n)
	if l.tokens >= cost {
		l.tokens -= cost
		return 0, nil
	}

	l.tokenLimitHits++
	l.metrics.IncTokenLimitHit(l.name)
	deficit := cost - l.tokens
	wait := time.Duration(deficit * (l.period / l.rate) * float64(time.Second))
	return wait, nil
}

// SetRate atomically changes the refill rate (tokens per period), leaving
// capacity and current tokens untouched. Used by AdaptiveLimiter.
func (l *TokenBucketLimiter) SetRate(rate int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	l.rate = float64(rate)
}

// Rate returns the current refill rate.
func (l *TokenBucketLimiter) Rate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.rate)
}

// Capacity returns the bucket's maximum token count.
func (l *TokenBucketLimiter) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.capacity)
}

// Tokens returns the current (refilled) token count, for observation and tests.
func (l *TokenBucketLimiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// Stats is a point-in-time snapshot of limiter state for metrics and debugging.
type Stats struct {
	Rate           int
	Capacity       int
	Tokens         float64
	TokenLimitHits int64
}

// Stats returns a snapshot of the limiter's current state.
func (l *TokenBucketLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return Stats{
		Rate:           int(l.rate),
		Capacity:       int(l.capacity),
		Tokens:         l.tokens,
		TokenLimitHits: l.tokenLimitHits,
	}
}

// Execute acquires n tokens, sleeping out any induced wait, then invokes fn.
// The wait is interruptible: a cancelled ctx aborts before fn runs and without
// ever decrementing tokens for the aborted attempt.
func Execute[T any](ctx context.Context, l *TokenBucketLimiter, n int, fn func() (T, error)) (T, error) {
	var zero T
	for {
		wait, err := l.Acquire(n)
		if err != nil {
			return zero, err
		}
		if wait <= 0 {
			return fn()
		}

		timer := l.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, coreerr.WithCause(coreerr.KindCancelled, ctx.Err(), "rate limit wait cancelled")
		case <-timer.C:
			if ctx.Err() != nil {
				return zero, coreerr.WithCause(coreerr.KindCancelled, ctx.Err(), "rate limit wait cancelled")
			}
			l.metrics.ObserveQueueWait(l.name, wait)
		}
	}
}
