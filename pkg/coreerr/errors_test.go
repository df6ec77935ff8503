package coreerr

import (
	"errors"
	"testing"
)

func TestIsAndKindOf(t *testing.T) {
	err := New(KindAuth, "bad key")
	if !Is(err, KindAuth) {
		t.Fatalf("expected Is(err, KindAuth) to be true")
	}
	if Is(err, KindServer) {
		t.Fatalf("expected Is(err, KindServer) to be false")
	}

	kind, ok := KindOf(err)
	if !ok || kind != KindAuth {
		t.Fatalf("KindOf() = (%v, %v), want (KindAuth, true)", kind, ok)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	kind, ok := KindOf(errors.New("boom"))
	if ok {
		t.Fatalf("expected ok=false for unclassified error")
	}
	if kind != KindServer {
		t.Fatalf("expected conservative KindServer fallback, got %v", kind)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WithCause(KindTransport, cause, "connect failed")
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find wrapped cause")
	}
}

func TestTruncate(t *testing.T) {
	s := "0123456789"
	if got := Truncate(s, 100); got != s {
		t.Fatalf("Truncate should be a no-op under the limit, got %q", got)
	}
	got := Truncate(s, 4)
	if got == s || len(got) <= 4 {
		t.Fatalf("Truncate should shorten and annotate, got %q", got)
	}
}

func TestErrorMessageVariants(t *testing.T) {
	if New(KindBadRequest, "bad").Error() == "" {
		t.Fatalf("expected non-empty message")
	}
	if WithStatus(KindRateLimit, 429, "slow down").Error() == "" {
		t.Fatalf("expected non-empty message")
	}
	bare := &Error{Kind: KindCircuitOpen}
	if bare.Error() != "circuit_open" {
		t.Fatalf("expected bare kind string, got %q", bare.Error())
	}
}
