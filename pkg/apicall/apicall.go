// Package apicall defines ApiCall, the typed inspectable unit of work that
// binds one Endpoint and one opaque request payload, and carries its own
// execution record through to a terminal, write-once state.
package apicall

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"apicore/pkg/coreerr"
	"apicore/pkg/endpoint"
)

// Status is the point a call has reached in its lifecycle.
type Status int8

const (
	Pending Status = iota
	Running
	Succeeded
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrorDescriptor captures a classified failure without tying callers to the
// error-wrapping machinery in coreerr.
type ErrorDescriptor struct {
	Kind    coreerr.Kind
	Message string
	Payload string
}

// ApiCall is a single unit of work: a request bound to one (borrowed)
// Endpoint, plus the token/cache flags that govern how it is scheduled.
// Callers construct it, a worker invokes it exactly once, and its terminal
// fields are write-once — set precisely once (by Finalize, MarkFailed or
// MarkCancelled) and read freely thereafter.
type ApiCall struct {
	ID        string
	CreatedAt time.Time

	endpoint *endpoint.Endpoint
	request  endpoint.Request

	CacheControl   string
	RequiresTokens bool
	tokenCost      int // 0 means "unset"; TokenCost() defaults it to 1

	mu            sync.Mutex
	status        Status
	startedAt     time.Time
	endedAt       time.Time
	result        *endpoint.Response
	errDescriptor *ErrorDescriptor
	retryAttempts int
}

// New creates a Pending ApiCall bound to ep, carrying request. requiresTokens
// and tokenCost (0 = default to 1 at consumption time) govern how a
// RateLimitedExecutor schedules it.
func New(ep *endpoint.Endpoint, request endpoint.Request, requiresTokens bool, tokenCost int) *ApiCall {
	return &ApiCall{
		ID:             uuid.NewString(),
		CreatedAt:      time.Now(),
		endpoint:       ep,
		request:        request,
		RequiresTokens: requiresTokens,
		tokenCost:      tokenCost,
		status:         Pending,
	}
}

// TokenCost returns the call's configured token cost, defaulting to 1 when
// unset. Token cost estimation from provider-specific payloads is a caller
// concern; the core only consumes whatever value is populated here.
func (a *ApiCall) TokenCost() int {
	if a.tokenCost <= 0 {
		return 1
	}
	return a.tokenCost
}

// Status returns the call's current lifecycle status.
func (a *ApiCall) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Result returns the success payload and whether the call has reached a
// terminal successful state.
func (a *ApiCall) Result() (*endpoint.Response, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.status == Succeeded
}

// Error returns the classified failure descriptor, if any.
func (a *ApiCall) Error() (*ErrorDescriptor, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errDescriptor, a.errDescriptor != nil
}

// Timing returns the call's start and end timestamps. Either may be zero if
// the call has not reached that point yet.
func (a *ApiCall) Timing() (started, ended time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startedAt, a.endedAt
}

// RetryAttempts returns how many retry attempts have been recorded against
// this call so far (set by callers composing a RetryPolicy around Attempt).
func (a *ApiCall) RetryAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retryAttempts
}

// RecordRetryAttempt increments the call's retry attempt counter. Called by
// the Model façade's retry wrapper between attempts.
func (a *ApiCall) RecordRetryAttempt() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retryAttempts++
}

// Invoke runs the call's endpoint action exactly once. It asserts the call
// is Pending and transitions Pending -> Running -> {Succeeded, Failed}.
// Failures are captured into the call's terminal state and are also returned
// to the caller of Invoke.
func (a *ApiCall) Invoke(ctx context.Context) (*endpoint.Response, error) {
	if err := a.MarkRunning(); err != nil {
		return nil, err
	}
	resp, err := a.Attempt(ctx)
	a.Finalize(resp, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// MarkRunning asserts the call is Pending and transitions it to Running. It
// is the shared entry guard for both Invoke and Model's retry/breaker-wrapped
// composition.
func (a *ApiCall) MarkRunning() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != Pending {
		return coreerr.New(coreerr.KindInvalidState, "apicall is not pending")
	}
	a.status = Running
	a.startedAt = time.Now()
	return nil
}

// Attempt performs one raw call against the bound endpoint without touching
// the call's status. Unlike Invoke, it may be called repeatedly — it is the
// primitive a retry policy loops over. Callers that use Attempt directly are
// responsible for calling MarkRunning before the first attempt and Finalize
// once the sequence of attempts is done.
func (a *ApiCall) Attempt(ctx context.Context) (*endpoint.Response, error) {
	return a.endpoint.Call(ctx, a.request)
}

// Finalize records the terminal outcome of a call that was driven through
// Attempt directly (e.g. by Model's retry/breaker composition), transitioning
// Running -> {Succeeded, Failed} exactly once.
func (a *ApiCall) Finalize(resp *endpoint.Response, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != Running {
		return
	}
	a.endedAt = time.Now()

	if err != nil {
		kind, _ := coreerr.KindOf(err)
		a.errDescriptor = &ErrorDescriptor{Kind: kind, Message: err.Error()}
		if ce, ok := err.(*coreerr.Error); ok {
			a.errDescriptor.Payload = ce.Payload
		}
		a.status = Failed
		return
	}

	a.result = resp
	a.status = Succeeded
}

// MarkCancelled transitions a still-pending or running call to Cancelled.
// Used by callers that abort a call before or during Invoke due to context
// cancellation. It is a no-op once the call has already reached a terminal
// state.
func (a *ApiCall) MarkCancelled(cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == Succeeded || a.status == Failed || a.status == Cancelled {
		return
	}
	a.status = Cancelled
	a.endedAt = time.Now()
	kind, _ := coreerr.KindOf(cause)
	msg := "cancelled"
	if cause != nil {
		msg = cause.Error()
	}
	a.errDescriptor = &ErrorDescriptor{Kind: kind, Message: msg}
}

// MarkFailed transitions a still-pending call straight to Failed without
// invoking it, used by callers (e.g. RateLimitedExecutor) that fail a call
// before it ever reaches the endpoint — a backpressure rejection, say.
func (a *ApiCall) MarkFailed(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == Succeeded || a.status == Failed || a.status == Cancelled {
		return
	}
	now := time.Now()
	if a.startedAt.IsZero() {
		a.startedAt = now
	}
	a.endedAt = now
	kind, _ := coreerr.KindOf(err)
	a.errDescriptor = &ErrorDescriptor{Kind: kind, Message: err.Error()}
	a.status = Failed
}
