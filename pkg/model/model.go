// Package model provides the Model façade: the high-level "send this
// request" entry point that composes an Endpoint, a RateLimitedExecutor, and
// an optional CircuitBreaker + RetryPolicy into one call.
package model

import (
	"context"

	"apicore/pkg/apicall"
	"apicore/pkg/circuitbreaker"
	"apicore/pkg/endpoint"
	"apicore/pkg/executor"
	"apicore/pkg/retry"
	"apicore/pkg/utils"
)

// Model holds one Endpoint plus the resilience/scheduling stack around it.
// Breaker and Retry are both optional: a Model with neither simply submits
// straight to the executor.
type Model struct {
	endpoint *endpoint.Endpoint
	exec     *executor.RateLimitedExecutor
	breaker  *circuitbreaker.Breaker
	retry    *retry.Policy
}

// New composes a Model from its parts. breaker and retryPolicy may be nil.
func New(ep *endpoint.Endpoint, exec *executor.RateLimitedExecutor, breaker *circuitbreaker.Breaker, retryPolicy *retry.Policy) *Model {
	return &Model{endpoint: ep, exec: exec, breaker: breaker, retry: retryPolicy}
}

// SendOptions controls how Send returns.
type SendOptions struct {
	// RequiresTokens governs whether the RateLimitedExecutor consults its
	// limiter before this call runs.
	RequiresTokens bool
	// TokenCost is the token cost charged on submission; 0 defaults to 1,
	// unless EstimateTokenCost is set.
	TokenCost int
	// EstimateTokenCost, when true, RequiresTokens is set and TokenCost is
	// unset, estimates the
	// cost from payload's string fields via a tokenizer rather than
	// defaulting to 1. Token cost estimation for provider-specific payloads
	// is inherently approximate; callers with exact accounting requirements
	// should populate TokenCost directly instead.
	EstimateTokenCost bool
	// CacheControl is an endpoint-specific caching hint.
	CacheControl string
	// AwaitResult, when true, makes Send block until the ApiCall reaches a
	// terminal state and return its result/error alongside the ApiCall
	// handle.
	AwaitResult bool
}

// Send builds an ApiCall for payload.
//
// When opts.AwaitResult is false, Send submits the call to the
// RateLimitedExecutor and returns immediately with the ApiCall handle for the
// caller to poll; the queue worker invokes it once, without the RetryPolicy
// or CircuitBreaker. When true, Send runs the call synchronously, wrapped
// with the configured RetryPolicy (innermost) and CircuitBreaker (outermost —
// so the breaker's state reflects retry-exhausted failures, not individual
// attempts), and returns its result or error; this path uses neither the
// executor's queue nor its limiter.
func (m *Model) Send(ctx context.Context, payload map[string]any, opts SendOptions) (*apicall.ApiCall, *endpoint.Response, error) {
	tokenCost := opts.TokenCost
	if opts.RequiresTokens && tokenCost == 0 && opts.EstimateTokenCost {
		if estimated, err := utils.EstimateTokenCost(m.endpoint.Provider(), payload); err == nil {
			tokenCost = estimated
		}
	}
	call := apicall.New(m.endpoint, endpoint.Request{Payload: payload, CacheControl: opts.CacheControl}, opts.RequiresTokens, tokenCost)

	if !opts.AwaitResult {
		if err := m.exec.Submit(ctx, call); err != nil {
			return call, nil, err
		}
		return call, nil, nil
	}

	resp, err := m.invokeWrapped(ctx, call)
	return call, resp, err
}

// invokeWrapped drives call through retry (innermost) then breaker
// (outermost), synchronously, bypassing the queue — used when the caller
// wants an awaited result rather than a polled handle. call.Attempt may run
// more than once across retries; call.Finalize records the terminal outcome
// exactly once, after the whole wrapped sequence settles.
func (m *Model) invokeWrapped(ctx context.Context, call *apicall.ApiCall) (*endpoint.Response, error) {
	if err := call.MarkRunning(); err != nil {
		return nil, err
	}

	first := true
	work := func(ctx context.Context) (*endpoint.Response, error) {
		if !first {
			call.RecordRetryAttempt()
		}
		first = false
		return call.Attempt(ctx)
	}

	if m.retry != nil {
		inner := work
		work = func(ctx context.Context) (*endpoint.Response, error) {
			return retry.Run(ctx, m.retry, inner)
		}
	}

	if m.breaker != nil {
		inner := work
		work = func(ctx context.Context) (*endpoint.Response, error) {
			return circuitbreaker.Run(ctx, m.breaker, inner)
		}
	}

	resp, err := work(ctx)
	call.Finalize(resp, err)
	return resp, err
}
