package endpoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"apicore/pkg/config"
	"apicore/pkg/coreerr"
)

func newTestConfig(srv *httptest.Server) config.Endpoint {
	return config.Endpoint{
		Provider:    "test",
		Transport:   config.TransportHTTP,
		BaseURL:     srv.URL,
		Path:        "/v1/complete",
		Method:      "POST",
		ContentType: "application/json",
		AuthKind:    config.AuthBearer,
		Timeout:     time.Second,
	}
}

func staticSecret(v string) SecretSource {
	return func() (string, error) { return v, nil }
}

func TestCallSuccessDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-key" {
			t.Errorf("Authorization header = %q, want Bearer secret-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"answer":"ok"}`))
	}))
	defer srv.Close()

	e, err := New(newTestConfig(srv), staticSecret("secret-key"), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := e.Call(context.Background(), Request{Payload: map[string]any{"prompt": "hi"}})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Body["answer"] != "ok" {
		t.Fatalf("Body = %v, want answer=ok", resp.Body)
	}
}

func TestCallClassifiesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	e, err := New(newTestConfig(srv), staticSecret("bad"), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = e.Call(context.Background(), Request{Payload: map[string]any{}})
	if !coreerr.Is(err, coreerr.KindAuth) {
		t.Fatalf("expected KindAuth, got %v", err)
	}
}

func TestCallClassifiesRateLimitWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, err := New(newTestConfig(srv), staticSecret("k"), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = e.Call(context.Background(), Request{Payload: map[string]any{}})
	if !coreerr.Is(err, coreerr.KindRateLimit) {
		t.Fatalf("expected KindRateLimit, got %v", err)
	}
	retryAfter, ok := coreerr.RetryAfterOf(err)
	if !ok || retryAfter != 5*time.Second {
		t.Fatalf("RetryAfterOf() = %v, %v, want 5s, true", retryAfter, ok)
	}
}

func TestCallClassifiesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := New(newTestConfig(srv), staticSecret("k"), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = e.Call(context.Background(), Request{Payload: map[string]any{}})
	if !coreerr.Is(err, coreerr.KindServer) {
		t.Fatalf("expected KindServer, got %v", err)
	}
}

func TestCallClassifiesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := New(newTestConfig(srv), staticSecret("k"), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = e.Call(context.Background(), Request{Payload: map[string]any{}})
	if !coreerr.Is(err, coreerr.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestCloseThenCallReopensSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e, err := New(newTestConfig(srv), staticSecret("k"), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := e.Call(context.Background(), Request{Payload: map[string]any{}}); err != nil {
		t.Fatalf("first Call() error = %v", err)
	}
	first, err := e.ensureSession()
	if err != nil {
		t.Fatalf("ensureSession() error = %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close() must be a no-op, got error = %v", err)
	}

	if _, err := e.Call(context.Background(), Request{Payload: map[string]any{}}); err != nil {
		t.Fatalf("Call() after Close() error = %v", err)
	}
	second, err := e.ensureSession()
	if err != nil {
		t.Fatalf("ensureSession() error = %v", err)
	}
	if first == second {
		t.Fatalf("expected a new session object after Close()")
	}
}

func TestGetRequestEncodesPayloadAsQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "hello" {
			t.Errorf("query param q = %q, want hello", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := newTestConfig(srv)
	cfg.Method = http.MethodGet
	e, err := New(cfg, staticSecret("k"), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := e.Call(context.Background(), Request{Payload: map[string]any{"q": "hello"}}); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
}
