package ratelimit

import (
	"context"
	"sync"

	"apicore/pkg/config"
	"apicore/pkg/logx"
	"apicore/pkg/metrics"
)

// EndpointLimiter is a keyed registry of TokenBucketLimiters, one per endpoint
// key (typically a provider name, but callers may key however they need —
// §9 leaves the exact derivation to the implementer). Limiters are created
// lazily from a default configuration template on first use.
type EndpointLimiter struct {
	mu       sync.RWMutex
	defaults config.Limiter
	limiters map[string]*TokenBucketLimiter
	logger   *logx.Logger
	metrics  metrics.Recorder
}

// NewEndpointLimiter creates a registry that lazily constructs limiters from
// defaults for any key not yet seen.
func NewEndpointLimiter(defaults config.Limiter, logger *logx.Logger) *EndpointLimiter {
	if logger == nil {
		logger = logx.Nop()
	}
	return &EndpointLimiter{
		defaults: defaults,
		limiters: make(map[string]*TokenBucketLimiter),
		logger:   logger,
		metrics:  metrics.Nop(),
	}
}

// WithMetrics attaches a Recorder propagated to every limiter this registry
// creates (including ones already created, and any created lazily later).
func (e *EndpointLimiter) WithMetrics(rec metrics.Recorder) *EndpointLimiter {
	if rec == nil {
		return e
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = rec
	for key, l := range e.limiters {
		l.WithMetrics(rec, "ratelimit."+key)
	}
	return e
}

// LimiterFor returns the limiter for key, creating it from the default
// configuration if this is the first reference to key.
func (e *EndpointLimiter) LimiterFor(key string) (*TokenBucketLimiter, error) {
	e.mu.RLock()
	l, ok := e.limiters[key]
	e.mu.RUnlock()
	if ok {
		return l, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.limiters[key]; ok {
		return l, nil
	}
	l, err := New(e.defaults, e.logger.WithComponent("ratelimit."+key))
	if err != nil {
		return nil, err
	}
	l.WithMetrics(e.metrics, "ratelimit."+key)
	e.limiters[key] = l
	return l, nil
}

// Update atomically replaces or reconfigures the limiter for key. Any call
// already holding the previous *TokenBucketLimiter (via a prior LimiterFor)
// keeps running under the old parameters until it completes; only calls to
// LimiterFor made after Update observe the new configuration.
func (e *EndpointLimiter) Update(key string, cfg config.Limiter) error {
	l, err := New(cfg, e.logger.WithComponent("ratelimit."+key))
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l.WithMetrics(e.metrics, "ratelimit."+key)
	e.limiters[key] = l
	return nil
}

// ExecuteKeyed delegates to the keyed limiter's Execute, creating the limiter
// lazily if needed.
func ExecuteKeyed[T any](ctx context.Context, e *EndpointLimiter, key string, n int, fn func() (T, error)) (T, error) {
	var zero T
	l, err := e.LimiterFor(key)
	if err != nil {
		return zero, err
	}
	return Execute(ctx, l, n, fn)
}

// Stats returns a snapshot for every known endpoint key.
func (e *EndpointLimiter) Stats() map[string]Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Stats, len(e.limiters))
	for key, l := range e.limiters {
		out[key] = l.Stats()
	}
	return out
}
