// Package transport is the client's single HTTP request executor.
//
// It applies a timeout to every call, negotiates JSON, injects the bearer
// token, and normalizes every failure into *Error with a Class derived from
// the HTTP status. Higher layers only ever branch on Class.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"wastewise/cmd/identity/ids"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20 // 1 MiB

	headerRequestID = "X-Request-ID"
)

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Body   any

	// Timeout overrides the gateway default when > 0.
	Timeout time.Duration

	// Token, when set, is sent as the bearer credential.
	Token string

	// Authenticated sends the stored credential when Token is empty.
	Authenticated bool
}

// Doer executes requests. The session manager depends on this interface
// rather than on *Gateway so tests can substitute a fake backend.
type Doer interface {
	Do(ctx context.Context, req Request, out any) error
}

// TokenSource yields the stored credential. credential.Store satisfies it.
type TokenSource interface {
	Load(ctx context.Context) (token string, ok bool, err error)
}

// AuthFailureFunc is notified when a call made with the stored credential is
// rejected with ClassAuth. token is the credential that was rejected.
type AuthFailureFunc func(token string, err error)

// Gateway is the HTTP implementation of Doer.
type Gateway struct {
	log     *slog.Logger
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	tokens  TokenSource

	mu        sync.RWMutex
	onAuthErr AuthFailureFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			g.http = c
		}
	}
}

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithTokenSource sets where Authenticated requests read the credential from.
func WithTokenSource(ts TokenSource) Option {
	return func(g *Gateway) { g.tokens = ts }
}

// New constructs a Gateway for the API rooted at baseURL.
func New(log *slog.Logger, baseURL string, opts ...Option) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("transport: unsupported scheme: %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("transport: missing host")
	}

	g := &Gateway{
		log:     log,
		base:    u,
		http:    &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// OnAuthFailure registers the hook invoked on rejected stored credentials.
// Passing nil removes it.
func (g *Gateway) OnAuthFailure(fn AuthFailureFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onAuthErr = fn
}

// Do executes req and decodes a JSON success body into out (when non-nil).
func (g *Gateway) Do(ctx context.Context, req Request, out any) error {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	token := req.Token
	usedStored := false
	if token == "" && req.Authenticated {
		if g.tokens == nil {
			return &Error{Class: ClassAuth, Message: "no credential source configured"}
		}
		t, ok, err := g.tokens.Load(ctx)
		if err != nil || !ok {
			return &Error{Class: ClassAuth, Message: "no credential", Err: err}
		}
		token, usedStored = t, true
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return &Error{Class: ClassClient, Message: "encode request body", Err: err}
		}
		body = bytes.NewReader(b)
	}

	hreq, err := http.NewRequestWithContext(ctx, method, g.resolve(req.Path), body)
	if err != nil {
		return &Error{Class: ClassClient, Message: "build request", Err: err}
	}
	hreq.Header.Set("Accept", "application/json")
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}
	reqID := ids.MustULID(time.Now().UTC())
	if reqID != "" {
		hreq.Header.Set(headerRequestID, reqID)
	}

	start := time.Now()
	resp, err := g.http.Do(hreq)
	if err != nil {
		msg := "network unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "request timed out"
		}
		g.log.Info("transport.request.fail", "method", method, "path", req.Path, "request_id", reqID, "err", err)
		return &Error{Class: ClassNetwork, Message: msg, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &Error{Class: ClassNetwork, Status: resp.StatusCode, Message: "read response", Err: err}
	}

	g.log.Debug("transport.request",
		"method", method,
		"path", req.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", reqID,
	)

	if resp.StatusCode >= 400 {
		code, msg := decodeErrorBody(resp.StatusCode, raw)
		terr := &Error{Class: classifyStatus(resp.StatusCode), Status: resp.StatusCode, Code: code, Message: msg}
		if terr.Class == ClassAuth && usedStored {
			g.notifyAuthFailure(token, terr)
		}
		return terr
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Class: ClassServer, Status: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	return nil
}

func (g *Gateway) resolve(path string) string {
	u := *g.base
	u.Path = strings.TrimRight(g.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String()
}

func (g *Gateway) notifyAuthFailure(token string, err error) {
	g.mu.RLock()
	fn := g.onAuthErr
	g.mu.RUnlock()
	if fn != nil {
		fn(token, err)
	}
}
