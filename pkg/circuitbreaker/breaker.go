// Package circuitbreaker implements a three-state circuit breaker
// (Closed/Open/HalfOpen) that protects downstream calls from a persistently
// failing dependency.
package circuitbreaker

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

// State is one of Closed, Open, or HalfOpen.
type State int8

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker guards calls through Run/Execute. It opens after failureThreshold
// consecutive failures, refuses calls while open, and after recoveryTime
// admits up to halfOpenMaxCalls concurrent probes; a probe success closes the
// breaker, any probe failure reopens it.
type Breaker struct {
	mu sync.Mutex

	cfg    config.Breaker
	clock  clock.Clock
	logger *logx.Logger

	metrics metrics.Recorder
	name    string

	state           State
	consecutiveFail int
	openedAt        time.Time
	halfOpenInFlght int

	transitions int64
}

// New creates a Breaker from cfg, failing immediately on an invalid
// configuration.
func New(cfg config.Breaker, logger *logx.Logger) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Breaker{
		cfg:     cfg,
		clock:   clock.Default,
		logger:  logger,
		metrics: metrics.Nop(),
		name:    "breaker",
		state:   Closed,
	}, nil
}

// WithClock overrides the clock source, used by tests.
func (b *Breaker) WithClock(c clock.Clock) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = c
	return b
}

// WithMetrics attaches a Recorder that observes state transitions, labeled
// with name.
func (b *Breaker) WithMetrics(rec metrics.Recorder, name string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec != nil {
		b.metrics = rec
	}
	if name != "" {
		b.name = name
	}
	return b
}

// State returns the breaker's current state, resolving an elapsed recovery
// window into HalfOpen as a side effect (the transition is eager: it happens
// on the next admission check, not on a background timer).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()
	return b.state
}

// maybeRecover transitions Open -> HalfOpen once recoveryTime has elapsed.
// Must be called under b.mu.
func (b *Breaker) maybeRecover() {
	if b.state != Open {
		return
	}
	if b.clock.Now().Sub(b.openedAt) >= b.cfg.RecoveryTime {
		b.state = HalfOpen
		b.halfOpenInFlght = 0
		b.transitions++
		b.metrics.ObserveBreakerTransition(b.name, Open.String(), HalfOpen.String())
		b.logger.Debugf("circuit breaker: open -> half_open after recovery window")
	}
}

// admit decides whether a call may proceed, reserving a half-open probe slot
// if applicable. Returns whether the admitted call is a half-open probe, and
// an error classified KindCircuitOpen when refused.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()

	switch b.state {
	case Closed:
		return false, nil
	case HalfOpen:
		if b.halfOpenInFlght >= b.cfg.HalfOpenMaxCalls {
			return false, coreerr.New(coreerr.KindCircuitOpen, "circuit half-open probe limit reached")
		}
		b.halfOpenInFlght++
		return true, nil
	default: // Open
		return false, coreerr.New(coreerr.KindCircuitOpen, "circuit breaker is open")
	}
}

// onResult records the outcome of an admitted call and applies the state
// transition rules: any failure in Closed increments the consecutive-failure
// counter (opening the breaker at the threshold); a HalfOpen failure reopens
// immediately; a HalfOpen success closes the breaker.
func (b *Breaker) onResult(wasHalfOpen bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if wasHalfOpen {
		b.halfOpenInFlght--
	}

	excluded := err != nil && b.cfg.ExcludedErrorKinds != nil && func() bool {
		kind, ok := coreerr.KindOf(err)
		return ok && b.cfg.ExcludedErrorKinds[kind]
	}()

	switch {
	case err == nil:
		prev := b.state
		b.consecutiveFail = 0
		if b.state != Closed {
			b.state = Closed
			b.halfOpenInFlght = 0
			b.transitions++
			b.metrics.ObserveBreakerTransition(b.name, prev.String(), Closed.String())
			b.logger.Debugf("circuit breaker: -> closed after successful probe")
		}
	case excluded:
		// excluded errors do not count against the breaker at all.
	case b.state == HalfOpen:
		b.state = Open
		b.openedAt = b.clock.Now()
		b.halfOpenInFlght = 0
		b.transitions++
		b.metrics.ObserveBreakerTransition(b.name, HalfOpen.String(), Open.String())
		b.logger.Debugf("circuit breaker: half_open -> open after probe failure")
	default:
		b.consecutiveFail++
		if b.state == Closed && b.consecutiveFail >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.clock.Now()
			b.transitions++
			b.metrics.ObserveBreakerTransition(b.name, Closed.String(), Open.String())
			b.logger.Debugf("circuit breaker: closed -> open after %d consecutive failures", b.consecutiveFail)
		}
	}
}

// Stats is a point-in-time snapshot for metrics and debugging.
type Stats struct {
	State           State
	ConsecutiveFail int
	Transitions     int64
}

// Stats returns a snapshot of the breaker's current state.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecover()
	return Stats{State: b.state, ConsecutiveFail: b.consecutiveFail, Transitions: b.transitions}
}

// Run executes fn if the breaker admits the call, and records the outcome.
// A refused call returns a KindCircuitOpen error without invoking fn.
func Run[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	wasHalfOpen, err := b.admit()
	if err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	b.onResult(wasHalfOpen, err)
	if err != nil {
		return zero, err
	}
	return result, nil
}
