package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/polisai/taskgate/pkg/domain"
	"github.com/polisai/taskgate/pkg/telemetry"
)

// forwardedRequestHeaders are the inbound headers passed to the backend. Authorization
// is deliberately absent: the gateway attaches its own token.
var forwardedRequestHeaders = []string{
	"Content-Type",
	"Accept",
	"Accept-Language",
	"If-Match",
	"If-None-Match",
	RequestIDHeader,
}

func forwardHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(forwardedRequestHeaders))
	for _, key := range forwardedRequestHeaders {
		for _, v := range src.Values(key) {
			dst.Add(key, v)
		}
	}
	return dst
}

// copyResponseHeaders copies backend response headers, filtering hop-by-hop headers and
// the framing headers net/http recomputes.
func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// isHopByHopHeader identifies HTTP hop-by-hop headers that should not be forwarded.
func isHopByHopHeader(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailer", "Trailers", "Transfer-Encoding", "Upgrade":
		return true
	}
	return false
}

// bodyAllowed reports whether a response with status may carry a body.
func bodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError normalizes err and writes it as the response. The raw error is logged,
// never sent.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) domain.NormalizedError {
	if logger == nil {
		logger = slog.Default()
	}

	ne := Normalize(err)
	ne.RequestID = RequestIDFromContext(r.Context())
	ne.TraceID = telemetry.TraceID(r.Context())

	level := slog.LevelInfo
	if ne.StatusCode >= 500 {
		level = slog.LevelWarn
	}
	if ne.Kind == domain.KindServerError && ne.StatusCode == http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", ne.StatusCode,
		"kind", ne.Kind,
		"request_id", ne.RequestID,
		"error", err,
	)

	w.Header().Del("Content-Length")
	writeJSON(w, ne.StatusCode, ne)
	return ne
}
