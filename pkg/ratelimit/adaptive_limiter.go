package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"apicore/pkg/logx"
)

// These lists name the response header families this limiter understands,
// in priority order. Providers disagree on casing and the
// "X-" prefix; http.Header.Get is case-insensitive so only the two
// spellings need listing.
var (
	limitHeaderNames     = []string{"RateLimit-Limit", "X-RateLimit-Limit"}
	remainingHeaderNames = []string{"RateLimit-Remaining", "X-RateLimit-Remaining"}
	resetHeaderNames     = []string{"RateLimit-Reset", "X-RateLimit-Reset"}
)

// AdaptiveLimiter wraps a TokenBucketLimiter and retunes its rate from
// provider rate-limit response headers. It never raises the rate above the
// ceiling observed at construction time, unless allowIncreaseAboveMax is set.
type AdaptiveLimiter struct {
	mu sync.Mutex

	limiter      *TokenBucketLimiter
	safetyFactor float64
	minRate      int
	maxCeiling   int
	allowAbove   bool

	logger *logx.Logger

	lastLimit, lastRemaining, lastReset int
}

// AdaptiveOption configures an AdaptiveLimiter at construction.
type AdaptiveOption func(*AdaptiveLimiter)

// WithAllowIncreaseAboveMax lets adapted rates exceed the limiter's original
// configured capacity. Off by default: the core never trusts a provider
// header to grant more throughput than the caller originally configured.
func WithAllowIncreaseAboveMax() AdaptiveOption {
	return func(a *AdaptiveLimiter) { a.allowAbove = true }
}

// NewAdaptive wraps limiter with header-driven rate adjustment. safetyFactor
// scales every observed limit down before applying it (a safetyFactor of 0.5
// means "never use more than half of what the provider says is available").
// minRate is a floor below which the rate is never driven, guarding against
// a momentarily starved provider wedging the limiter shut.
func NewAdaptive(limiter *TokenBucketLimiter, safetyFactor float64, minRate int, logger *logx.Logger, opts ...AdaptiveOption) *AdaptiveLimiter {
	if safetyFactor <= 0 || safetyFactor > 1 {
		safetyFactor = 1
	}
	if logger == nil {
		logger = logx.Nop()
	}
	a := &AdaptiveLimiter{
		limiter:      limiter,
		safetyFactor: safetyFactor,
		minRate:      minRate,
		maxCeiling:   limiter.Capacity(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Limiter returns the underlying limiter, for passing to Execute/ExecuteKeyed.
func (a *AdaptiveLimiter) Limiter() *TokenBucketLimiter { return a.limiter }

// UpdateFromHeaders inspects an HTTP response's rate-limit headers and, if a
// usable limit value is present, retunes the underlying limiter's rate.
// Headers that are missing or unparsable leave the current rate unchanged —
// the limiter keeps operating on its last known-good rate rather than
// guessing.
func (a *AdaptiveLimiter) UpdateFromHeaders(h http.Header) {
	limit, ok := firstIntHeader(h, limitHeaderNames)
	if !ok {
		return
	}

	remaining, _ := firstIntHeader(h, remainingHeaderNames)
	reset, _ := firstIntHeader(h, resetHeaderNames)

	a.mu.Lock()
	a.lastLimit, a.lastRemaining, a.lastReset = limit, remaining, reset
	ceiling := a.maxCeiling
	allowAbove := a.allowAbove
	safety := a.safetyFactor
	minRate := a.minRate
	a.mu.Unlock()

	candidate := limit
	if candidate < minRate {
		candidate = minRate
	}

	newRate := int(float64(candidate) * safety)
	if newRate < minRate {
		newRate = minRate
	}
	if !allowAbove && newRate > ceiling {
		newRate = ceiling
	}

	a.logger.Debugf("adaptive rate update: provider limit=%d remaining=%d reset=%d -> rate=%d", limit, remaining, reset, newRate)
	a.limiter.SetRate(newRate)
}

// firstIntHeader returns the first parseable integer value found across the
// given header name candidates.
func firstIntHeader(h http.Header, names []string) (int, bool) {
	for _, name := range names {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}
