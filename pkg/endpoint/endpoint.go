// Package endpoint owns the single HTTP or SDK session used to reach one
// external provider, and turns opaque request payloads into opaque
// responses, classifying every failure into a coreerr.Kind.
package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"apicore/pkg/config"
	"apicore/pkg/coreerr"
	"apicore/pkg/logx"
)

// Request is the opaque unit of work an Endpoint turns into a call: a field
// → value payload plus an optional cache-control hint. Higher layers shape
// the payload; the core never interprets its contents.
type Request struct {
	Payload      map[string]any
	CacheControl string
}

// Response is the opaque result of a successful call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       map[string]any
	RawBody    []byte
}

// session is the lazily-constructed, single-owner transport handle. For the
// http transport it is a *http.Client; for the sdk transport it is whatever
// provider client object Dial returns.
type session struct {
	httpClient *http.Client
	sdkClient  any
}

// Endpoint owns one transport session to one provider. Construction is
// cheap; the session itself is created on first call and torn down exactly
// once via Close or scope exit.
type Endpoint struct {
	cfg    config.Endpoint
	secret func() (string, error)
	logger *logx.Logger

	// sdkDial constructs the SDK client object for a non-HTTP transport. nil
	// for http-transport endpoints.
	sdkDial func(apiKey string, opts map[string]any) (any, error)

	mu   sync.Mutex
	sess *session
}

// SecretSource resolves the endpoint's API key material at session
// construction time. Keeping it a function (rather than a stored string)
// means the key is fetched fresh on every (re-)open and is never retained
// longer than the session that needs it.
type SecretSource func() (string, error)

// New constructs an Endpoint from cfg. No session is opened yet. sdkDial is
// required when cfg.Transport is TransportSDK and ignored otherwise.
func New(cfg config.Endpoint, secret SecretSource, logger *logx.Logger, sdkDial func(string, map[string]any) (any, error)) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if secret == nil {
		secret = func() (string, error) { return "", nil }
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Endpoint{cfg: cfg, secret: secret, logger: logger, sdkDial: sdkDial}, nil
}

// ensureSession lazily constructs the session under e.mu if one isn't open
// yet. Construction is mutex-guarded so concurrent callers observe and share
// exactly one session object.
func (e *Endpoint) ensureSession() (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != nil {
		return e.sess, nil
	}

	apiKey, err := e.secret()
	if err != nil {
		return nil, coreerr.WithCause(coreerr.KindAuth, err, "resolve endpoint credentials")
	}

	var s *session
	switch e.cfg.Transport {
	case config.TransportHTTP:
		s = &session{httpClient: &http.Client{Timeout: e.cfg.Timeout}}
	case config.TransportSDK:
		if e.sdkDial == nil {
			return nil, coreerr.New(coreerr.KindInvalidArgument, "sdk transport configured without a dial function")
		}
		client, err := e.sdkDial(apiKey, e.cfg.ClientOptions)
		if err != nil {
			return nil, coreerr.WithCause(coreerr.KindTransport, err, "construct sdk client")
		}
		s = &session{sdkClient: client}
	default:
		return nil, coreerr.New(coreerr.KindInvalidArgument, "unknown transport "+string(e.cfg.Transport))
	}

	e.sess = s
	e.logger.Debugf("endpoint %s: opened new %s session", e.cfg.Provider, e.cfg.Transport)
	return s, nil
}

// Close tears down the current session, if any, exactly once and unsets the
// reference. A subsequent Call re-opens a fresh session. Close is idempotent.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil {
		return nil
	}
	if e.sess.httpClient != nil {
		e.sess.httpClient.CloseIdleConnections()
	}
	e.sess = nil
	e.logger.Debugf("endpoint %s: closed session", e.cfg.Provider)
	return nil
}

// Provider returns the endpoint's configured provider name.
func (e *Endpoint) Provider() string { return e.cfg.Provider }

// SDKClient returns the raw SDK client object for the current session,
// lazily opening one if needed. Only meaningful for TransportSDK endpoints.
func (e *Endpoint) SDKClient() (any, error) {
	s, err := e.ensureSession()
	if err != nil {
		return nil, err
	}
	return s.sdkClient, nil
}

// Call executes request against the endpoint's provider and returns a
// normalized Response, or a classified error. It never panics and never
// leaks a response body.
func (e *Endpoint) Call(ctx context.Context, req Request) (*Response, error) {
	s, err := e.ensureSession()
	if err != nil {
		return nil, err
	}
	if s.httpClient == nil {
		return nil, coreerr.New(coreerr.KindInvalidArgument, "endpoint is not http-transport; use the sdk client directly")
	}

	apiKey, err := e.secret()
	if err != nil {
		return nil, coreerr.WithCause(coreerr.KindAuth, err, "resolve endpoint credentials")
	}

	httpReq, err := e.buildRequest(ctx, req, apiKey)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer drainAndClose(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerr.WithCause(coreerr.KindTransport, err, "read response body")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return decodeSuccess(resp, body)
	}
	return nil, classifyHTTPStatus(resp.StatusCode, resp.Header, body)
}

func (e *Endpoint) buildRequest(ctx context.Context, req Request, apiKey string) (*http.Request, error) {
	u := e.cfg.BaseURL + e.cfg.Path

	method := e.cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	var bodyReader io.Reader
	if method == http.MethodGet {
		parsed, err := url.Parse(u)
		if err != nil {
			return nil, coreerr.WithCause(coreerr.KindInvalidArgument, err, "parse endpoint URL")
		}
		q := parsed.Query()
		for k, v := range req.Payload {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		parsed.RawQuery = q.Encode()
		u = parsed.String()
	} else {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, coreerr.WithCause(coreerr.KindInvalidArgument, err, "encode request payload")
		}
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, coreerr.WithCause(coreerr.KindInvalidArgument, err, "build http request")
	}

	contentType := e.cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	if method != http.MethodGet {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range e.cfg.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	if err := applyAuth(httpReq, e.cfg.AuthKind, apiKey); err != nil {
		return nil, err
	}
	return httpReq, nil
}

func applyAuth(req *http.Request, kind config.Auth, apiKey string) error {
	switch kind {
	case config.AuthNone, "":
		return nil
	case config.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+apiKey)
		return nil
	case config.AuthXAPIKey:
		req.Header.Set("X-Api-Key", apiKey)
		return nil
	case config.AuthBasic:
		parts := strings.SplitN(apiKey, ":", 2)
		user := parts[0]
		pass := ""
		if len(parts) == 2 {
			pass = parts[1]
		}
		req.SetBasicAuth(user, pass)
		return nil
	default:
		return coreerr.New(coreerr.KindInvalidArgument, "unknown auth kind "+string(kind))
	}
}

func decodeSuccess(resp *http.Response, body []byte) (*Response, error) {
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "json") {
		return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, RawBody: body}, nil
	}
	if len(body) == 0 {
		return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, RawBody: body}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, coreerr.WithCause(coreerr.KindServer, err, "decode json response body")
	}
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: decoded, RawBody: body}, nil
}

// classifyHTTPStatus maps an HTTP status code to a coreerr.Kind per the
// endpoint boundary classification table.
func classifyHTTPStatus(status int, headers http.Header, body []byte) error {
	msg := coreerr.Truncate(string(body), 500)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return coreerr.WithStatus(coreerr.KindAuth, status, msg)
	case status == http.StatusNotFound:
		return coreerr.WithStatus(coreerr.KindNotFound, status, msg)
	case status == http.StatusRequestTimeout:
		return coreerr.WithStatus(coreerr.KindTimeout, status, msg)
	case status == http.StatusTooManyRequests:
		err := coreerr.WithStatus(coreerr.KindRateLimit, status, msg)
		if retryAfter := parseRetryAfter(headers.Get("Retry-After")); retryAfter > 0 {
			err.Payload = fmt.Sprintf("retry_after_seconds=%d", int(retryAfter.Seconds()))
			err.WithRetryAfter(retryAfter)
		}
		return err
	case status >= 400 && status < 500:
		return coreerr.WithStatus(coreerr.KindBadRequest, status, msg)
	case status >= 500:
		return coreerr.WithStatus(coreerr.KindServer, status, msg)
	default:
		return coreerr.WithStatus(coreerr.KindServer, status, msg)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		return time.Until(when)
	}
	return 0
}

func classifyTransportError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return coreerr.WithCause(coreerr.KindTimeout, err, "transport timeout")
	}
	return coreerr.WithCause(coreerr.KindTransport, err, "transport connect failure")
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
