package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/taskgate/pkg/domain"
	"github.com/polisai/taskgate/pkg/telemetry"
)

const (
	// DefaultTimeout bounds a single backend attempt.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxResponseBytes caps how much of a backend response is buffered.
	DefaultMaxResponseBytes = 16 << 20
)

// TokenSource is the part of the token store the executor needs.
type TokenSource interface {
	Current(ctx context.Context) (domain.TokenPair, bool)
	RefreshIfStale(ctx context.Context, usedAccessToken string) (domain.TokenPair, error)
	ExpiringWithin(ctx context.Context, d time.Duration) bool
}

// Response is a fully buffered backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts is the number of HTTP requests made, 1 or 2.
	Attempts int
	// Refreshed reports whether the access token was refreshed during the call.
	Refreshed bool
}

// ExecutorConfig holds the collaborators and limits of an Executor.
type ExecutorConfig struct {
	Client           *http.Client
	Tokens           TokenSource
	Timeout          time.Duration
	RefreshSkew      time.Duration
	MaxResponseBytes int64
	// Breaker is optional; nil never rejects.
	Breaker *Breaker
	Logger  *slog.Logger
}

// Executor sends OutboundRequests with the current bearer token.
type Executor struct {
	client      *http.Client
	tokens      TokenSource
	timeout     time.Duration
	refreshSkew time.Duration
	maxBody     int64
	breaker     *Breaker
	logger      *slog.Logger
}

// NewExecutor creates an Executor. Tokens is required.
func NewExecutor(cfg ExecutorConfig) *Executor {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:      client,
		tokens:      cfg.Tokens,
		timeout:     timeout,
		refreshSkew: cfg.RefreshSkew,
		maxBody:     maxBody,
		breaker:     cfg.Breaker,
		logger:      logger,
	}
}

// Execute issues req once with the current access token. A 401 answer to a request that
// carried a token triggers one refresh and one replay; a 401 without a token fails with
// domain.ErrAuthRequired. Non-401 statuses, including other errors, are returned as a
// Response for the caller to interpret.
func (e *Executor) Execute(ctx context.Context, req domain.OutboundRequest) (*Response, error) {
	span := trace.SpanFromContext(ctx)

	pair, hasToken := e.tokens.Current(ctx)
	refreshed := false

	if hasToken && e.refreshSkew > 0 && e.tokens.ExpiringWithin(ctx, e.refreshSkew) {
		fresh, err := e.tokens.RefreshIfStale(ctx, pair.AccessToken)
		telemetry.RecordAuthEvent(span, "gateway.auth.proactive_refresh", 0, err)
		if err != nil {
			return nil, err
		}
		e.logger.Debug("access token refreshed ahead of expiry", "method", req.Method, "backend_url", req.URL)
		pair = fresh
		refreshed = true
	}

	resp, err := e.send(ctx, req, pair.AccessToken, 1)
	if err != nil {
		return nil, err
	}
	resp.Refreshed = refreshed
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	if !hasToken {
		return nil, fmt.Errorf("%w: backend rejected %s %s", domain.ErrAuthRequired, req.Method, req.URL)
	}
	if refreshed {
		return nil, fmt.Errorf("%w: backend rejected a freshly refreshed token", domain.ErrAuthExpired)
	}

	fresh, err := e.tokens.RefreshIfStale(ctx, pair.AccessToken)
	telemetry.RecordAuthEvent(span, "gateway.auth.refresh", 1, err)
	if err != nil {
		e.logger.Info("token refresh failed, request abandoned", "method", req.Method, "backend_url", req.URL, "error", err)
		return nil, err
	}

	resp, err = e.send(ctx, req.Clone(), fresh.AccessToken, 2)
	if err != nil {
		return nil, err
	}
	resp.Refreshed = true
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: backend rejected the refreshed token", domain.ErrAuthExpired)
	}
	return resp, nil
}

func (e *Executor) send(ctx context.Context, req domain.OutboundRequest, accessToken string, attempt int) (*Response, error) {
	if err := e.breaker.Allow(); err != nil {
		e.logger.Warn("backend request rejected", "method", req.Method, "backend_url", req.URL, "error", err)
		return nil, &domain.UnavailableError{Err: err}
	}

	resp, err := e.roundTrip(ctx, req, accessToken, attempt)
	var unavailable *domain.UnavailableError
	switch {
	case err == nil:
		e.breaker.Record(false)
	case errors.As(err, &unavailable) && ctx.Err() == nil:
		e.breaker.Record(true)
	default:
		// A caller that went away, or a request never sent, says nothing about the backend.
		e.breaker.Release()
	}
	return resp, err
}

func (e *Executor) roundTrip(ctx context.Context, req domain.OutboundRequest, accessToken string, attempt int) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Del("Authorization")
	if accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	}

	start := time.Now()
	e.logger.Debug("dispatching backend request",
		"method", req.Method,
		"backend_url", req.URL,
		"attempt", attempt,
		"authenticated", accessToken != "",
	)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warn("backend request failed", "method", req.Method, "backend_url", req.URL, "attempt", attempt, "error", err)
		return nil, &domain.UnavailableError{Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "failed to close response body", slog.String("error", cerr.Error()))
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody))
	if err != nil {
		e.logger.Warn("backend response read failed", "method", req.Method, "backend_url", req.URL, "attempt", attempt, "error", err)
		return nil, &domain.UnavailableError{Err: err}
	}

	e.logger.Debug("backend responded",
		"method", req.Method,
		"backend_url", req.URL,
		"attempt", attempt,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       payload,
		Attempts:   attempt,
	}, nil
}
