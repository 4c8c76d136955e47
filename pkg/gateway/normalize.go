package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/polisai/taskgate/pkg/domain"
)

const (
	msgInternal    = "internal gateway error"
	msgUnavailable = "backend unavailable"
	msgAuthExpired = "session expired, please sign in again"
	msgAuthNeeded  = "authentication required"
)

// maxMessageLen bounds backend-supplied messages echoed to clients.
const maxMessageLen = 512

// Normalize maps any failure onto the client-facing error shape. It never panics.
func Normalize(err error) domain.NormalizedError {
	if err == nil {
		return domain.NormalizedError{StatusCode: http.StatusInternalServerError, Kind: domain.KindServerError, Message: msgInternal}
	}

	var normalized domain.NormalizedError
	if errors.As(err, &normalized) {
		return normalized
	}

	switch {
	case errors.Is(err, domain.ErrAuthExpired):
		return domain.NormalizedError{StatusCode: http.StatusUnauthorized, Kind: domain.KindUnauthorized, Message: msgAuthExpired}
	case errors.Is(err, domain.ErrAuthRequired):
		return domain.NormalizedError{StatusCode: http.StatusUnauthorized, Kind: domain.KindUnauthorized, Message: msgAuthNeeded}
	}

	var routing *domain.RoutingError
	if errors.As(err, &routing) {
		msg := "invalid request path"
		if routing.Param != "" {
			msg = "missing path parameter \"" + routing.Param + "\""
		}
		return domain.NormalizedError{StatusCode: http.StatusBadRequest, Kind: domain.KindBadRequest, Message: msg}
	}
	if errors.Is(err, domain.ErrBadRequest) {
		return domain.NormalizedError{StatusCode: http.StatusBadRequest, Kind: domain.KindBadRequest, Message: badRequestMessage(err)}
	}

	var backend *domain.BackendError
	if errors.As(err, &backend) {
		return normalizeBackend(backend)
	}

	if isUnavailable(err) {
		return domain.NormalizedError{StatusCode: http.StatusServiceUnavailable, Kind: domain.KindUnavailable, Message: msgUnavailable}
	}

	return domain.NormalizedError{StatusCode: http.StatusInternalServerError, Kind: domain.KindServerError, Message: msgInternal}
}

func normalizeBackend(e *domain.BackendError) domain.NormalizedError {
	status := e.StatusCode
	switch {
	case status >= 400 && status < 500:
		msg := messageFromBody(e.Body)
		if msg == "" {
			msg = statusText(status)
		}
		return domain.NormalizedError{StatusCode: status, Kind: domain.KindClientError, Message: msg}
	case status >= 500 && status < 600:
		return domain.NormalizedError{StatusCode: status, Kind: domain.KindServerError, Message: statusText(status)}
	default:
		return domain.NormalizedError{StatusCode: http.StatusBadGateway, Kind: domain.KindServerError, Message: "unexpected backend response"}
	}
}

func isUnavailable(err error) bool {
	if errors.Is(err, domain.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// badRequestMessage strips the sentinel prefix off gateway-generated bad request errors.
func badRequestMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), domain.ErrBadRequest.Error()+": ")
	if msg == "" || msg == domain.ErrBadRequest.Error() {
		return statusText(http.StatusBadRequest)
	}
	return truncate(msg)
}

// messageFromBody pulls a human readable message out of a backend error body. Bodies are
// untrusted: anything that is not a recognised JSON shape yields "".
func messageFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}

	for _, key := range []string{"message", "error", "detail"} {
		if msg := messageValue(doc[key]); msg != "" {
			return truncate(msg)
		}
	}
	return ""
}

func messageValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		return messageValue(val["message"])
	default:
		return ""
	}
}

func statusText(status int) string {
	if text := http.StatusText(status); text != "" {
		return strings.ToLower(text)
	}
	return "backend error"
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	return strings.ToValidUTF8(s[:maxMessageLen], "")
}
