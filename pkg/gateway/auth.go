package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/polisai/taskgate/pkg/domain"
	"github.com/polisai/taskgate/pkg/tokens"
	"github.com/polisai/taskgate/pkg/upstream"
)

// SessionStore is the part of the token store the auth endpoints use.
type SessionStore interface {
	Current(ctx context.Context) (domain.TokenPair, bool)
	Set(ctx context.Context, pair domain.TokenPair) error
	Clear(ctx context.Context) error
	ExpiresAt(ctx context.Context) (time.Time, bool)
}

// AuthPaths are the backend endpoints used for session management.
type AuthPaths struct {
	Login    string `yaml:"login"`
	Register string `yaml:"register"`
	Logout   string `yaml:"logout"`
}

// DefaultAuthPaths returns the backend's conventional auth endpoints.
func DefaultAuthPaths() AuthPaths {
	return AuthPaths{
		Login:    "/auth/login",
		Register: "/auth/register",
		Logout:   "/auth/logout",
	}
}

// AuthConfig holds the collaborators of AuthHandlers.
type AuthConfig struct {
	Client       *http.Client
	BaseURL      string
	Paths        AuthPaths
	Store        SessionStore
	Timeout      time.Duration
	MaxBodyBytes int64
	Metrics      *Metrics
	Logger       *slog.Logger
}

// AuthHandlers serve login, register, logout, and session endpoints. Login and register
// are sent without a bearer token and never trigger a refresh.
type AuthHandlers struct {
	client       *http.Client
	baseURL      string
	paths        AuthPaths
	store        SessionStore
	timeout      time.Duration
	maxBodyBytes int64
	metrics      *Metrics
	logger       *slog.Logger
}

// SessionInfo is the body of GET /auth/session.
type SessionInfo struct {
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// NewAuthHandlers creates AuthHandlers.
func NewAuthHandlers(cfg AuthConfig) *AuthHandlers {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	paths := cfg.Paths
	defaults := DefaultAuthPaths()
	if paths.Login == "" {
		paths.Login = defaults.Login
	}
	if paths.Register == "" {
		paths.Register = defaults.Register
	}
	if paths.Logout == "" {
		paths.Logout = defaults.Logout
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &AuthHandlers{
		client:       client,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		paths:        paths,
		store:        cfg.Store,
		timeout:      timeout,
		maxBodyBytes: maxBody,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// Login forwards credentials and stores the returned token pair.
func (a *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	a.credentialExchange(w, r, "login", a.paths.Login)
}

// Register forwards a sign-up and stores the returned token pair, if any.
func (a *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	a.credentialExchange(w, r, "register", a.paths.Register)
}

func (a *AuthHandlers) credentialExchange(w http.ResponseWriter, r *http.Request, event, path string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
	if err != nil {
		a.metrics.RecordSessionEvent(event, false)
		WriteError(w, r, a.logger, fmt.Errorf("%w: request body too large or unreadable", domain.ErrBadRequest))
		return
	}

	resp, err := a.post(r.Context(), path, r.Header, body, "")
	if err != nil {
		a.metrics.RecordSessionEvent(event, false)
		WriteError(w, r, a.logger, err)
		return
	}
	if resp.StatusCode >= 400 {
		a.metrics.RecordSessionEvent(event, false)
		WriteError(w, r, a.logger, &domain.BackendError{StatusCode: resp.StatusCode, Body: resp.Body, Method: http.MethodPost, URL: path})
		return
	}

	pair, perr := tokens.ParsePair(resp.Body)
	switch {
	case perr == nil:
		if err := a.store.Set(r.Context(), pair); err != nil {
			a.logger.Error("session tokens not persisted", "event", event, "error", err)
		}
		a.logger.Info("session established", "event", event, "request_id", RequestIDFromContext(r.Context()))
	case event == "login":
		a.metrics.RecordSessionEvent(event, false)
		WriteError(w, r, a.logger, fmt.Errorf("login response carried no tokens: %w", perr))
		return
	default:
		a.logger.Info("registration returned no tokens", "request_id", RequestIDFromContext(r.Context()))
	}

	a.metrics.RecordSessionEvent(event, true)
	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 && bodyAllowed(resp.StatusCode) {
		_, _ = w.Write(resp.Body)
	}
}

// Logout tells the backend to revoke the session, best effort, and clears the store.
func (a *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := a.SignOut(r.Context()); err != nil {
		a.metrics.RecordSessionEvent("logout", false)
		WriteError(w, r, a.logger, err)
		return
	}
	a.metrics.RecordSessionEvent("logout", true)
	w.WriteHeader(http.StatusNoContent)
}

// SignIn posts credentials to the backend login endpoint and stores the returned
// pair. A backend rejection is returned as a *domain.BackendError.
func (a *AuthHandlers) SignIn(ctx context.Context, credentials []byte) (domain.TokenPair, error) {
	resp, err := a.post(ctx, a.paths.Login, nil, credentials, "")
	if err != nil {
		return domain.TokenPair{}, err
	}
	if resp.StatusCode >= 400 {
		return domain.TokenPair{}, &domain.BackendError{StatusCode: resp.StatusCode, Body: resp.Body, Method: http.MethodPost, URL: a.paths.Login}
	}
	pair, err := tokens.ParsePair(resp.Body)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("login response carried no tokens: %w", err)
	}
	if err := a.store.Set(ctx, pair); err != nil {
		return pair, fmt.Errorf("persist session tokens: %w", err)
	}
	return pair, nil
}

// SignOut revokes the session at the backend, ignoring backend failures, and clears
// the store. Only a failure to clear the store is returned.
func (a *AuthHandlers) SignOut(ctx context.Context) error {
	if pair, ok := a.store.Current(ctx); ok {
		payload, _ := json.Marshal(map[string]string{"refreshToken": pair.RefreshToken})
		resp, err := a.post(ctx, a.paths.Logout, nil, payload, pair.AccessToken)
		switch {
		case err != nil:
			a.logger.Warn("backend logout failed, clearing local session anyway", "error", err)
		case resp.StatusCode >= 400:
			a.logger.Warn("backend logout rejected, clearing local session anyway", "status", resp.StatusCode)
		}
	}
	return a.store.Clear(ctx)
}

// Session reports whether a token pair is held and, for JWT access tokens, when it
// expires.
func (a *AuthHandlers) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info := SessionInfo{}
	if _, ok := a.store.Current(ctx); ok {
		info.Authenticated = true
		if exp, ok := a.store.ExpiresAt(ctx); ok {
			utc := exp.UTC()
			info.ExpiresAt = &utc
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, info)
}

type authResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (a *AuthHandlers) post(ctx context.Context, path string, inbound http.Header, body []byte, accessToken string) (*authResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	if inbound != nil {
		req.Header = forwardHeaders(inbound)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &domain.UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, upstream.DefaultMaxResponseBytes))
	if err != nil {
		return nil, &domain.UnavailableError{Err: err}
	}
	return &authResponse{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: payload}, nil
}
