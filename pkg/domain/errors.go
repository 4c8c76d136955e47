package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Common domain errors
var (
	ErrRouting       = errors.New("routing error")
	ErrAuthRequired  = errors.New("authentication required")
	ErrAuthExpired   = errors.New("authentication expired")
	ErrNotFound      = errors.New("resource not found")
	ErrUnavailable   = errors.New("backend unavailable")
	ErrBadRequest    = errors.New("bad request")
	ErrConfigInvalid = errors.New("invalid configuration")
)

// ErrorKind classifies a NormalizedError.
type ErrorKind string

// Error kinds surfaced to gateway clients.
const (
	KindBadRequest   ErrorKind = "BadRequest"
	KindUnauthorized ErrorKind = "Unauthorized"
	KindClientError  ErrorKind = "ClientError"
	KindServerError  ErrorKind = "ServerError"
	KindUnavailable  ErrorKind = "Unavailable"
)

// RoutingError reports a path template placeholder that could not be bound.
type RoutingError struct {
	Template string
	Param    string
	Reason   string
}

func (e *RoutingError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("routing %q: %s", e.Template, e.Reason)
	}
	return fmt.Sprintf("routing %q: missing path parameter %q", e.Template, e.Param)
}

func (e *RoutingError) Is(target error) bool {
	return target == ErrRouting
}

// BackendError carries a non-2xx backend response.
type BackendError struct {
	StatusCode int
	Body       []byte
	Method     string
	URL        string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s %s returned %d", e.Method, e.URL, e.StatusCode)
}

// Is reports 404 responses as ErrNotFound.
func (e *BackendError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// UnavailableError wraps a network failure or timeout talking to the backend.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// NormalizedError is the only failure shape returned to gateway clients.
type NormalizedError struct {
	StatusCode int       `json:"statusCode"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	RequestID  string    `json:"requestId,omitempty"`
	TraceID    string    `json:"traceId,omitempty"`
}

func (e NormalizedError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
}
