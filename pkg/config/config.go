// Package config defines the enumerated configuration surface for every layer
// of the resource-control core: limiter, breaker, retry, queue, and endpoint.
// Each type carries JSON/YAML tags, sensible defaults, and a Validate method
// that rejects out-of-range construction immediately rather than letting a
// misconfigured component fail confusingly at runtime.
package config

import (
	"fmt"
	"time"

	"apicore/pkg/coreerr"
)

// RateLimitBufferFactor is a headroom ratio for token-estimation inaccuracy.
// Nothing in this module applies it: EffectiveMaxTokens defaults MaxTokens to
// Rate unscaled, and Validate rejects a MaxTokens below Rate.
const RateLimitBufferFactor = 0.9

// Limiter configures a TokenBucketLimiter.
type Limiter struct {
	// Rate is the number of tokens granted per Period.
	Rate int `json:"rate" yaml:"rate"`
	// PeriodSeconds is the refill period, in seconds.
	PeriodSeconds float64 `json:"period_seconds" yaml:"period_seconds"`
	// MaxTokens is the bucket's burst capacity. Defaults to Rate.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// SafetyFactor scales an adaptively-derived rate down before applying it.
	SafetyFactor float64 `json:"safety_factor" yaml:"safety_factor"`
	// MinRate is the floor an AdaptiveLimiter will not shrink the rate below.
	MinRate int `json:"min_rate" yaml:"min_rate"`
}

// DefaultLimiter returns the spec-mandated defaults, keyed by an explicit rate.
func DefaultLimiter(rate int, periodSeconds float64) Limiter {
	return Limiter{
		Rate:          rate,
		PeriodSeconds: periodSeconds,
		MaxTokens:     rate,
		SafetyFactor:  1.0,
		MinRate:       1,
	}
}

// Validate rejects construction-time misconfiguration per §4.1: non-positive
// rate or period, or a capacity below the refill rate.
func (c Limiter) Validate() error {
	if c.Rate <= 0 {
		return coreerr.New(coreerr.KindInvalidArgument, "limiter rate must be positive")
	}
	if c.PeriodSeconds <= 0 {
		return coreerr.New(coreerr.KindInvalidArgument, "limiter period_seconds must be positive")
	}
	if c.MaxTokens != 0 && c.MaxTokens < c.Rate {
		return coreerr.New(coreerr.KindInvalidArgument, "limiter max_tokens must be >= rate")
	}
	if c.SafetyFactor <= 0 || c.SafetyFactor > 1 {
		return coreerr.New(coreerr.KindInvalidArgument, "limiter safety_factor must be in (0,1]")
	}
	if c.MinRate < 1 {
		return coreerr.New(coreerr.KindInvalidArgument, "limiter min_rate must be >= 1")
	}
	return nil
}

// EffectiveMaxTokens returns MaxTokens, defaulting to Rate when unset.
func (c Limiter) EffectiveMaxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return c.Rate
}

// Breaker configures a CircuitBreaker.
type Breaker struct {
	FailureThreshold   int                   `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTime       time.Duration         `json:"recovery_time_seconds" yaml:"recovery_time_seconds"`
	HalfOpenMaxCalls   int                   `json:"half_open_max_calls" yaml:"half_open_max_calls"`
	ExcludedErrorKinds map[coreerr.Kind]bool `json:"excluded_errors" yaml:"excluded_errors"`
}

// DefaultBreaker returns the spec-mandated defaults.
func DefaultBreaker() Breaker {
	return Breaker{
		FailureThreshold: 5,
		RecoveryTime:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Validate rejects non-positive thresholds.
func (c Breaker) Validate() error {
	if c.FailureThreshold < 1 {
		return coreerr.New(coreerr.KindInvalidArgument, "breaker failure_threshold must be >= 1")
	}
	if c.RecoveryTime <= 0 {
		return coreerr.New(coreerr.KindInvalidArgument, "breaker recovery_time must be positive")
	}
	if c.HalfOpenMaxCalls < 1 {
		return coreerr.New(coreerr.KindInvalidArgument, "breaker half_open_max_calls must be >= 1")
	}
	return nil
}

// Retry configures a RetryPolicy.
type Retry struct {
	MaxRetries      int                   `json:"max_retries" yaml:"max_retries"`
	BaseDelay       time.Duration         `json:"base_delay" yaml:"base_delay"`
	MaxDelay        time.Duration         `json:"max_delay" yaml:"max_delay"`
	BackoffFactor   float64               `json:"backoff_factor" yaml:"backoff_factor"`
	Jitter          bool                  `json:"jitter" yaml:"jitter"`
	JitterFactor    float64               `json:"jitter_factor" yaml:"jitter_factor"`
	RetryKinds      map[coreerr.Kind]bool `json:"retry_errors" yaml:"retry_errors"`
	ExcludeKinds    map[coreerr.Kind]bool `json:"exclude_errors" yaml:"exclude_errors"`
}

// DefaultRetry returns the spec-mandated defaults.
func DefaultRetry() Retry {
	return Retry{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
		JitterFactor:  0.2,
		RetryKinds: map[coreerr.Kind]bool{
			coreerr.KindTransport: true,
			coreerr.KindTimeout:   true,
			coreerr.KindRateLimit: true,
			coreerr.KindServer:    true,
		},
		ExcludeKinds: map[coreerr.Kind]bool{
			coreerr.KindAuth:       true,
			coreerr.KindNotFound:   true,
			coreerr.KindBadRequest: true,
		},
	}
}

// Validate rejects nonsensical retry/backoff parameters.
func (c Retry) Validate() error {
	if c.MaxRetries < 0 {
		return coreerr.New(coreerr.KindInvalidArgument, "retry max_retries must be >= 0")
	}
	if c.BaseDelay < 0 {
		return coreerr.New(coreerr.KindInvalidArgument, "retry base_delay must be >= 0")
	}
	if c.MaxDelay < c.BaseDelay {
		return coreerr.New(coreerr.KindInvalidArgument, "retry max_delay must be >= base_delay")
	}
	if c.BackoffFactor < 1 {
		return coreerr.New(coreerr.KindInvalidArgument, "retry backoff_factor must be >= 1")
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return coreerr.New(coreerr.KindInvalidArgument, "retry jitter_factor must be in [0,1]")
	}
	return nil
}

// Queue configures a BoundedQueue.
type Queue struct {
	Capacity         int           `json:"capacity" yaml:"capacity"`
	EnqueueTimeout   time.Duration `json:"enqueue_timeout" yaml:"enqueue_timeout"`
	ConcurrencyLimit int           `json:"concurrency_limit" yaml:"concurrency_limit"` // 0 = unbounded
	WorkerCount      int           `json:"worker_count" yaml:"worker_count"`
}

// DefaultQueue returns the spec-mandated defaults.
func DefaultQueue() Queue {
	return Queue{
		Capacity:       100,
		EnqueueTimeout: 100 * time.Millisecond,
		WorkerCount:    4,
	}
}

// Validate rejects a non-positive capacity or enqueue timeout.
func (c Queue) Validate() error {
	if c.Capacity < 1 {
		return coreerr.New(coreerr.KindInvalidArgument, "queue capacity must be >= 1")
	}
	if c.EnqueueTimeout <= 0 {
		return coreerr.New(coreerr.KindInvalidArgument, "queue enqueue_timeout must be positive")
	}
	if c.WorkerCount < 1 {
		return coreerr.New(coreerr.KindInvalidArgument, "queue worker_count must be >= 1")
	}
	return nil
}

// Transport names the closed set of transports an Endpoint may use.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportSDK  Transport = "sdk"
)

// Auth names the closed set of authentication schemes an Endpoint may apply.
type Auth string

const (
	AuthNone    Auth = "none"
	AuthBearer  Auth = "bearer"
	AuthXAPIKey Auth = "x_api_key"
	AuthBasic   Auth = "basic"
)

// Endpoint configures an Endpoint's immutable identity and transport.
//
//nolint:govet // logical field grouping preferred over memory alignment
type Endpoint struct {
	Provider        string            `json:"provider" yaml:"provider"`
	Transport       Transport         `json:"transport" yaml:"transport"`
	BaseURL         string            `json:"base_url" yaml:"base_url"`
	Path            string            `json:"path" yaml:"path"`
	Method          string            `json:"method" yaml:"method"`
	ContentType     string            `json:"content_type" yaml:"content_type"`
	AuthKind        Auth              `json:"auth" yaml:"auth"`
	DefaultHeaders  map[string]string `json:"default_headers" yaml:"default_headers"`
	Timeout         time.Duration     `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetriesHint  int               `json:"max_retries_hint" yaml:"max_retries_hint"`
	ClientOptions   map[string]any    `json:"client_options" yaml:"client_options"`
	APIKeySecretRef string            `json:"api_key" yaml:"api_key"`
}

// DefaultEndpoint returns the spec-mandated defaults for the given path.
func DefaultEndpoint(provider, path string) Endpoint {
	return Endpoint{
		Provider:       provider,
		Transport:      TransportHTTP,
		Path:           path,
		Method:         "POST",
		ContentType:    "application/json",
		AuthKind:       AuthBearer,
		Timeout:        300 * time.Second,
		MaxRetriesHint: 3,
	}
}

// Validate rejects an endpoint missing required fields.
func (c Endpoint) Validate() error {
	if c.Provider == "" {
		return coreerr.New(coreerr.KindInvalidArgument, "endpoint provider must not be empty")
	}
	if c.Transport != TransportHTTP && c.Transport != TransportSDK {
		return coreerr.New(coreerr.KindInvalidArgument, fmt.Sprintf("endpoint transport %q must be http or sdk", c.Transport))
	}
	if c.Transport == TransportHTTP && c.Path == "" {
		return coreerr.New(coreerr.KindInvalidArgument, "http endpoint path must not be empty")
	}
	if c.Timeout <= 0 {
		return coreerr.New(coreerr.KindInvalidArgument, "endpoint timeout must be positive")
	}
	switch c.AuthKind {
	case AuthNone, AuthBearer, AuthXAPIKey, AuthBasic:
	default:
		return coreerr.New(coreerr.KindInvalidArgument, fmt.Sprintf("endpoint auth kind %q is not recognized", c.AuthKind))
	}
	return nil
}
