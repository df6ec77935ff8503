package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"apicore/pkg/apicall"
	"apicore/pkg/circuitbreaker"
	"apicore/pkg/config"
	"apicore/pkg/coreerr"
	"apicore/pkg/endpoint"
	"apicore/pkg/executor"
	"apicore/pkg/ratelimit"
	"apicore/pkg/retry"
)

func newTestEndpoint(t *testing.T, srv *httptest.Server) *endpoint.Endpoint {
	t.Helper()
	cfg := config.Endpoint{
		Provider: "test", Transport: config.TransportHTTP, BaseURL: srv.URL,
		Path: "/v1", Method: "POST", AuthKind: config.AuthNone, Timeout: time.Second,
	}
	e, err := endpoint.New(cfg, nil, nil, nil)
	require.NoError(t, err)
	return e
}

func newTestExecutor(t *testing.T) *executor.RateLimitedExecutor {
	t.Helper()
	limiter, err := ratelimit.New(config.Limiter{Rate: 100, PeriodSeconds: 1, MaxTokens: 100, SafetyFactor: 1, MinRate: 1}, nil)
	require.NoError(t, err)
	rle, err := executor.NewRateLimited(config.Queue{Capacity: 4, EnqueueTimeout: time.Second, WorkerCount: 1}, limiter, nil)
	require.NoError(t, err)
	return rle
}

func TestSendPolledHandleReachesSucceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rle := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rle.Start(ctx))
	defer rle.Stop()

	m := New(newTestEndpoint(t, srv), rle, nil, nil)

	call, resp, err := m.Send(ctx, map[string]any{"x": 1}, SendOptions{})
	require.NoError(t, err)
	require.Nil(t, resp, "expected nil resp on polled Send")

	deadline := time.Now().Add(time.Second)
	for call.Status() == apicall.Pending || call.Status() == apicall.Running {
		require.False(t, time.Now().After(deadline), "call never reached terminal state, status=%v", call.Status())
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, apicall.Succeeded, call.Status())
}

func TestSendEstimatesTokenCostWhenRequested(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rle := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rle.Start(ctx))
	defer rle.Stop()

	m := New(newTestEndpoint(t, srv), rle, nil, nil)

	call, _, err := m.Send(ctx, map[string]any{"prompt": "This is a longer sentence with more words."}, SendOptions{
		RequiresTokens:    true,
		EstimateTokenCost: true,
	})
	require.NoError(t, err)
	require.Greater(t, call.TokenCost(), 1, "want an estimate greater than the default of 1")
}

func TestSendAwaitedRetriesThenSucceeds(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rle := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rle.Start(ctx))
	defer rle.Stop()

	retryPolicy, err := retry.New(config.Retry{
		MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond,
		BackoffFactor: 2, Jitter: false,
		RetryKinds: map[coreerr.Kind]bool{coreerr.KindServer: true},
	}, nil)
	require.NoError(t, err)

	m := New(newTestEndpoint(t, srv), rle, nil, retryPolicy)

	call, resp, err := m.Send(ctx, map[string]any{}, SendOptions{AwaitResult: true})
	require.NoError(t, err)
	require.NotNil(t, resp, "expected a non-nil response after eventual success")
	require.Equal(t, apicall.Succeeded, call.Status())
	require.Equal(t, 2, call.RetryAttempts())
	require.EqualValues(t, 3, atomic.LoadInt64(&calls))
}

func TestSendAwaitedBreakerOpensAfterRetryExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	rle := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rle.Start(ctx))
	defer rle.Stop()

	retryPolicy, err := retry.New(config.Retry{
		MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2,
		RetryKinds: map[coreerr.Kind]bool{coreerr.KindServer: true},
	}, nil)
	require.NoError(t, err)
	breaker, err := circuitbreaker.New(config.Breaker{FailureThreshold: 1, RecoveryTime: time.Minute, HalfOpenMaxCalls: 1}, nil)
	require.NoError(t, err)

	m := New(newTestEndpoint(t, srv), rle, breaker, retryPolicy)

	// First send exhausts its single (MaxRetries=0) attempt and fails,
	// tripping the breaker (threshold=1).
	_, _, err = m.Send(ctx, map[string]any{}, SendOptions{AwaitResult: true})
	require.Error(t, err)
	require.Equal(t, circuitbreaker.Open, breaker.Stats().State)

	// Second send should be rejected by the open breaker before ever
	// reaching the endpoint.
	_, _, err = m.Send(ctx, map[string]any{}, SendOptions{AwaitResult: true})
	require.True(t, coreerr.Is(err, coreerr.KindCircuitOpen), "expected KindCircuitOpen, got %v", err)
}

func TestSendAwaitedCancellationAbortsRetryWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	rle := newTestExecutor(t)
	ctx := context.Background()
	startCtx, startCancel := context.WithCancel(ctx)
	defer startCancel()
	require.NoError(t, rle.Start(startCtx))
	defer rle.Stop()

	retryPolicy, err := retry.New(config.Retry{
		MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2,
		RetryKinds: map[coreerr.Kind]bool{coreerr.KindServer: true},
	}, nil)
	require.NoError(t, err)

	m := New(newTestEndpoint(t, srv), rle, nil, retryPolicy)

	sendCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, sendErr := m.Send(sendCtx, map[string]any{}, SendOptions{AwaitResult: true})
		done <- sendErr
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, coreerr.Is(err, coreerr.KindCancelled), "expected KindCancelled, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Send() did not return after cancellation")
	}
}
