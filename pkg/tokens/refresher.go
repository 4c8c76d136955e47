package tokens

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
)

// DefaultRefreshTimeout bounds a refresh call when the client has no timeout.
const DefaultRefreshTimeout = 10 * time.Second

// maxAuthResponseBytes caps how much of an auth response is read.
const maxAuthResponseBytes = 1 << 20

// HTTPRefresher calls the backend refresh endpoint.
type HTTPRefresher struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPRefresher creates a refresher posting to baseURL+path.
func NewHTTPRefresher(baseURL, path string, client *http.Client, logger *slog.Logger) *HTTPRefresher {
	if client == nil {
		client = &http.Client{Timeout: DefaultRefreshTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRefresher{
		url:    strings.TrimRight(baseURL, "/") + path,
		client: client,
		logger: logger,
	}
}

// Refresh posts the refresh token and parses the returned pair.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.TokenPair{}, &domain.UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAuthResponseBytes))
	if err != nil {
		return domain.TokenPair{}, &domain.UnavailableError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger.Debug("refresh endpoint rejected token", "status", resp.StatusCode)
		return domain.TokenPair{}, &domain.BackendError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Method:     http.MethodPost,
			URL:        r.url,
		}
	}

	return ParsePair(body)
}
