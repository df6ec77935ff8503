package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"apicore/pkg/config"
	"apicore/pkg/coreerr"
)

type recordingClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newRecordingClock() *recordingClock { return &recordingClock{now: time.Unix(0, 0)} }

func (c *recordingClock) Now() time.Time { return c.now }

func (c *recordingClock) NewTimer(d time.Duration) *time.Timer {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return time.NewTimer(0)
}

func TestRunSleepsExactBackoffSequence(t *testing.T) {
	cfg := config.Retry{
		MaxRetries:    2,
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
		Jitter:        false,
	}
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rc := newRecordingClock()
	p.WithClock(rc)

	calls := 0
	_, err = Run(context.Background(), p, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("transient")
	})
	if err == nil {
		t.Fatalf("expected final failure to propagate")
	}
	if calls != 3 {
		t.Fatalf("fn called %d times, want 3", calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(rc.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", rc.sleeps, want)
	}
	for i := range want {
		if rc.sleeps[i] != want[i] {
			t.Fatalf("sleeps[%d] = %v, want %v", i, rc.sleeps[i], want[i])
		}
	}
}

func TestRunReturnsImmediatelyOnSuccess(t *testing.T) {
	p, err := New(config.DefaultRetry(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rc := newRecordingClock()
	p.WithClock(rc)

	calls := 0
	got, err := Run(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != 42 || calls != 1 {
		t.Fatalf("got=%d calls=%d, want 42/1", got, calls)
	}
	if len(rc.sleeps) != 0 {
		t.Fatalf("expected no sleeps on first-try success, got %v", rc.sleeps)
	}
}

func TestRunDoesNotRetryExcludedKind(t *testing.T) {
	cfg := config.DefaultRetry()
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rc := newRecordingClock()
	p.WithClock(rc)

	calls := 0
	_, err = Run(context.Background(), p, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, coreerr.New(coreerr.KindAuth, "unauthorized")
	})
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1 (excluded kind must not retry)", calls)
	}
	if !coreerr.Is(err, coreerr.KindAuth) {
		t.Fatalf("expected KindAuth to propagate, got %v", err)
	}
}

func TestRunHonorsRetryAfterHintUnderMaxDelay(t *testing.T) {
	p, err := New(config.Retry{
		MaxRetries: 1, BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2.0,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rc := newRecordingClock()
	p.WithClock(rc)

	calls := 0
	_, err = Run(context.Background(), p, func(context.Context) (struct{}, error) {
		calls++
		if calls == 1 {
			return struct{}{}, coreerr.WithStatus(coreerr.KindRateLimit, 429, "slow down").WithRetryAfter(5 * time.Second)
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rc.sleeps) != 1 || rc.sleeps[0] != 5*time.Second {
		t.Fatalf("sleeps = %v, want [5s] (Retry-After hint should override computed backoff)", rc.sleeps)
	}
}

func TestRunIgnoresRetryAfterHintAboveMaxDelay(t *testing.T) {
	p, err := New(config.Retry{
		MaxRetries: 1, BaseDelay: time.Second, MaxDelay: 2 * time.Second, BackoffFactor: 2.0,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rc := newRecordingClock()
	p.WithClock(rc)

	calls := 0
	_, err = Run(context.Background(), p, func(context.Context) (struct{}, error) {
		calls++
		if calls == 1 {
			return struct{}{}, coreerr.WithStatus(coreerr.KindRateLimit, 429, "slow down").WithRetryAfter(time.Hour)
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rc.sleeps) != 1 || rc.sleeps[0] != time.Second {
		t.Fatalf("sleeps = %v, want [1s] (hint above MaxDelay must not override computed backoff)", rc.sleeps)
	}
}

func TestRunCancellationAbortsSleep(t *testing.T) {
	p, err := New(config.Retry{
		MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute, BackoffFactor: 2.0,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rc := newRecordingClock()
	p.WithClock(rc)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err = Run(ctx, p, func(context.Context) (struct{}, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return struct{}{}, errors.New("transient")
	})
	if !coreerr.Is(err, coreerr.KindCancelled) {
		t.Fatalf("expected KindCancelled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1 (cancellation should prevent further attempts)", calls)
	}
}
