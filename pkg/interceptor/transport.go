package interceptor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/palpalette/client/pkg/domain"
	"github.com/palpalette/client/pkg/promx"
	"github.com/palpalette/client/pkg/slogx"
	"github.com/palpalette/client/pkg/tokenstatus"
)

// DefaultRefreshTimeout bounds a refresh wave.
const DefaultRefreshTimeout = 10 * time.Second

var (
	ErrNoRefreshFunc  = errors.New("interceptor: no refresh function registered")
	ErrRefreshTimeout = errors.New("interceptor: refresh timed out")
	ErrRefreshFailed  = errors.New("interceptor: refresh failed")
)

// RefreshFunc obtains a new access token. It is called at most once per
// refresh wave.
type RefreshFunc func(ctx context.Context) (string, error)

// TokenSource provides the access token to attach.
type TokenSource interface {
	GetTokens(ctx context.Context) domain.Tokens
}

type Config struct {
	// Base performs the actual requests. Defaults to http.DefaultTransport.
	Base   http.RoundTripper
	Tokens TokenSource

	Clock          clockwork.Clock
	RefreshTimeout time.Duration

	Events  tokenstatus.Publisher
	Metrics *promx.Metrics
	Logger  *slog.Logger

	// OnSessionExpired runs after a refresh wave fails or times out.
	OnSessionExpired func(err error)
}

// Transport is an http.RoundTripper with transparent token refresh.
type Transport struct {
	base      http.RoundTripper
	tokens    TokenSource
	clock     clockwork.Clock
	timeout   time.Duration
	events    tokenstatus.Publisher
	metrics   *promx.Metrics
	logger    *slog.Logger
	onExpired func(error)

	mu         sync.Mutex
	refresh    RefreshFunc
	refreshing bool
	waiters    []chan refreshResult
}

type refreshResult struct {
	token string
	err   error
}

func New(cfg Config) *Transport {
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}

	return &Transport{
		base:      cfg.Base,
		tokens:    cfg.Tokens,
		clock:     cfg.Clock,
		timeout:   cfg.RefreshTimeout,
		events:    tokenstatus.OrDiscard(cfg.Events),
		metrics:   cfg.Metrics,
		logger:    slogx.OrDefault(cfg.Logger).With("component", "interceptor"),
		onExpired: cfg.OnSessionExpired,
	}
}

// SetRefreshFunc registers fn as the refresh callback. A nil fn unregisters
// it, after which 401s are returned as they are.
func (t *Transport) SetRefreshFunc(fn RefreshFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refresh = fn
}

// Refreshing reports whether a refresh wave is in flight.
func (t *Transport) Refreshing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshing
}

// Client returns an http.Client using the transport.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	out, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(t.withBearer(out, t.currentToken(ctx)))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || refreshDisabled(ctx) {
		return resp, nil
	}

	t.metrics.Unauthorized()

	token, err := t.awaitRefresh(ctx)
	if err != nil {
		slogx.FromContext(ctx, t.logger).Debug("returning original 401", "path", req.URL.Path, "error", err)
		return resp, nil
	}

	retry, err := rewind(out)
	if err != nil {
		t.logger.Warn("request body cannot be replayed", "path", req.URL.Path, "error", err)
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	resp, err = t.base.RoundTrip(t.withBearer(retry, token))
	if err != nil {
		return nil, err
	}
	t.metrics.Retried(resp.StatusCode)
	return resp, nil
}

func (t *Transport) currentToken(ctx context.Context) string {
	if t.tokens == nil {
		return ""
	}
	return t.tokens.GetTokens(ctx).AccessToken
}

func (t *Transport) withBearer(req *http.Request, token string) *http.Request {
	if token == "" {
		return req
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// awaitRefresh joins the in-flight refresh wave or starts one.
func (t *Transport) awaitRefresh(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.refreshing {
		ch := make(chan refreshResult, 1)
		t.waiters = append(t.waiters, ch)
		t.mu.Unlock()

		t.metrics.Queued()
		select {
		case r := <-ch:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	fn := t.refresh
	if fn == nil {
		t.mu.Unlock()
		t.metrics.ObserveRefresh(promx.OutcomeUnavailable, 0)
		return "", ErrNoRefreshFunc
	}
	t.refreshing = true
	t.mu.Unlock()

	var r refreshResult
	defer func() {
		t.mu.Lock()
		waiters := t.waiters
		t.waiters = nil
		t.refreshing = false
		t.mu.Unlock()

		for _, ch := range waiters {
			ch <- r
		}
	}()

	r = t.runRefresh(ctx, fn)
	if r.err != nil && t.onExpired != nil {
		t.onExpired(r.err)
	}
	return r.token, r.err
}

// runRefresh calls fn, racing it against the refresh timeout. The caller's
// cancellation does not abort the wave since other requests may be waiting
// on it.
func (t *Transport) runRefresh(ctx context.Context, fn RefreshFunc) refreshResult {
	start := t.clock.Now()
	t.events.Publish(tokenstatus.Event{Kind: tokenstatus.RefreshStart, At: start})
	t.logger.Debug("refreshing access token")

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan refreshResult, 1)
	go func() {
		token, err := fn(rctx)
		done <- refreshResult{token: token, err: err}
	}()

	timer := t.clock.NewTimer(t.timeout)
	defer timer.Stop()

	var r refreshResult
	outcome := promx.OutcomeSuccess
	select {
	case r = <-done:
		switch {
		case r.err != nil:
			r.err = fmt.Errorf("%w: %w", ErrRefreshFailed, r.err)
			outcome = promx.OutcomeFailure
		case r.token == "":
			r.err = fmt.Errorf("%w: empty access token", ErrRefreshFailed)
			outcome = promx.OutcomeFailure
		}
	case <-timer.Chan():
		r = refreshResult{err: ErrRefreshTimeout}
		outcome = promx.OutcomeTimeout
	}

	took := t.clock.Since(start)
	t.metrics.ObserveRefresh(outcome, took)

	if r.err != nil {
		t.logger.Warn("token refresh failed", "error", r.err, "took", took)
		t.events.Publish(tokenstatus.Event{Kind: tokenstatus.RefreshFailure, Err: r.err, At: t.clock.Now()})
		return r
	}

	t.logger.Debug("token refreshed", "took", took)
	t.events.Publish(tokenstatus.Event{Kind: tokenstatus.RefreshSuccess, At: t.clock.Now()})
	return r
}

// bufferBody clones req and makes its body replayable.
func bufferBody(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("interceptor: read request body: %w", err)
	}

	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return out, nil
}

// rewind returns a copy of req with a fresh body for a second attempt.
func rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("interceptor: body is not replayable")
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out.Body = body
	return out, nil
}
