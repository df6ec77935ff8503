package config

import (
	"testing"
	"time"

	"apicore/pkg/coreerr"
)

func TestLimiterValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Limiter
		wantErr bool
	}{
		{"defaults ok", DefaultLimiter(10, 1.0), false},
		{"zero rate", Limiter{Rate: 0, PeriodSeconds: 1, SafetyFactor: 1, MinRate: 1}, true},
		{"zero period", Limiter{Rate: 1, PeriodSeconds: 0, SafetyFactor: 1, MinRate: 1}, true},
		{"max below rate", Limiter{Rate: 10, PeriodSeconds: 1, MaxTokens: 5, SafetyFactor: 1, MinRate: 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr && !coreerr.Is(err, coreerr.KindInvalidArgument) {
				t.Fatalf("expected KindInvalidArgument, got %v", err)
			}
		})
	}
}

func TestEffectiveMaxTokens(t *testing.T) {
	c := Limiter{Rate: 10, PeriodSeconds: 1}
	if got := c.EffectiveMaxTokens(); got != 10 {
		t.Fatalf("EffectiveMaxTokens() = %d, want 10", got)
	}
	c.MaxTokens = 20
	if got := c.EffectiveMaxTokens(); got != 20 {
		t.Fatalf("EffectiveMaxTokens() = %d, want 20", got)
	}
}

func TestBreakerValidate(t *testing.T) {
	ok := DefaultBreaker()
	if err := ok.Validate(); err != nil {
		t.Fatalf("default breaker should validate: %v", err)
	}
	bad := ok
	bad.FailureThreshold = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero failure_threshold")
	}
}

func TestRetryValidate(t *testing.T) {
	ok := DefaultRetry()
	if err := ok.Validate(); err != nil {
		t.Fatalf("default retry should validate: %v", err)
	}
	bad := ok
	bad.MaxDelay = ok.BaseDelay - time.Second
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for max_delay < base_delay")
	}
}

func TestQueueValidate(t *testing.T) {
	bad := Queue{Capacity: 0, EnqueueTimeout: time.Second, WorkerCount: 1}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
}

func TestEndpointValidate(t *testing.T) {
	ok := DefaultEndpoint("openai", "/v1/chat/completions")
	if err := ok.Validate(); err != nil {
		t.Fatalf("default endpoint should validate: %v", err)
	}
	bad := ok
	bad.Transport = "carrier-pigeon"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}
