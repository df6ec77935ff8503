// Package retry implements retry-with-backoff as a pure configuration value
// plus a generic execution algorithm, so the same policy can wrap any
// fallible operation.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"apicore/pkg/clock"
	"apicore/pkg/config"
	"apicore/pkg/coreerr"
	"apicore/pkg/logx"
	"apicore/pkg/metrics"
)

// Policy is a retry configuration fixed at construction (apart from the
// WithClock/WithMetrics setters). All of a retry attempt's bookkeeping lives
// on the stack inside Run; the only shared state Run touches is the jitter
// random source, guarded by randMu, so one Policy may serve concurrent Runs.
type Policy struct {
	cfg    config.Retry
	clock  clock.Clock
	logger *logx.Logger
	rand   *rand.Rand
	randMu sync.Mutex

	metrics metrics.Recorder
	name    string
}

// New creates a Policy from cfg, failing immediately on an invalid
// configuration.
func New(cfg config.Retry, logger *logx.Logger) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Policy{
		cfg:     cfg,
		clock:   clock.Default,
		logger:  logger,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		metrics: metrics.Nop(),
		name:    "retry",
	}, nil
}

// WithClock overrides the clock source, used by tests to avoid real sleeps.
func (p *Policy) WithClock(c clock.Clock) *Policy {
	p.clock = c
	return p
}

// WithMetrics attaches a Recorder that observes retry attempts, labeled with
// name.
func (p *Policy) WithMetrics(rec metrics.Recorder, name string) *Policy {
	if rec != nil {
		p.metrics = rec
	}
	if name != "" {
		p.name = name
	}
	return p
}

// shouldRetry decides whether err warrants another attempt: excluded kinds
// never retry; if a retry set is configured, only member kinds retry;
// otherwise every error not excluded retries.
func (p *Policy) shouldRetry(err error) bool {
	kind, _ := coreerr.KindOf(err)
	if p.cfg.ExcludeKinds != nil && p.cfg.ExcludeKinds[kind] {
		return false
	}
	if len(p.cfg.RetryKinds) > 0 {
		return p.cfg.RetryKinds[kind]
	}
	return true
}

// delayFor computes the backoff delay before attempt n (1-indexed: the sleep
// before the 2nd try is delayFor(1)), applying exponential growth capped at
// MaxDelay, then optional jitter, whose result is capped at MaxDelay again.
// A Retry-After hint carried by lastErr
// overrides the computed delay outright (no jitter) when present and no
// greater than MaxDelay.
func (p *Policy) delayFor(attempt int, lastErr error) time.Duration {
	if hint, ok := coreerr.RetryAfterOf(lastErr); ok && hint <= p.cfg.MaxDelay {
		return hint
	}

	d := p.cfg.BaseDelay.Seconds()
	for i := 0; i < attempt-1; i++ {
		d *= p.cfg.BackoffFactor
	}
	delay := time.Duration(d * float64(time.Second))
	if delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	if !p.cfg.Jitter || p.cfg.JitterFactor <= 0 {
		return delay
	}
	spread := float64(delay) * p.cfg.JitterFactor
	p.randMu.Lock()
	offset := (p.rand.Float64()*2 - 1) * spread
	p.randMu.Unlock()
	jittered := time.Duration(float64(delay) + offset)
	if jittered < 0 {
		jittered = 0
	}
	if jittered > p.cfg.MaxDelay {
		jittered = p.cfg.MaxDelay
	}
	return jittered
}

// Run invokes fn, retrying on failure per the policy up to MaxRetries
// additional attempts (MaxRetries=2 means up to 3 total invocations). Sleeps
// between attempts are cancellation-aware: a cancelled ctx aborts the wait
// and returns immediately with a KindCancelled error.
func Run[T any](ctx context.Context, p *Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxRetries+1; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt > p.cfg.MaxRetries || !p.shouldRetry(err) {
			return zero, lastErr
		}

		delay := p.delayFor(attempt, err)
		p.metrics.IncRetryAttempt(p.name)
		p.logger.Debugf("retry: attempt %d failed (%v), sleeping %v before retry", attempt, err, delay)

		if delay <= 0 {
			continue
		}
		timer := p.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, coreerr.WithCause(coreerr.KindCancelled, ctx.Err(), "retry wait cancelled")
		case <-timer.C:
			if ctx.Err() != nil {
				return zero, coreerr.WithCause(coreerr.KindCancelled, ctx.Err(), "retry wait cancelled")
			}
		}
	}
	return zero, lastErr
}
