package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/polisai/taskgate/pkg/domain"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		kind    domain.ErrorKind
		message string
	}{
		{
			name:   "unavailable",
			err:    &domain.UnavailableError{Err: errors.New("connection refused")},
			status: http.StatusServiceUnavailable, kind: domain.KindUnavailable, message: msgUnavailable,
		},
		{
			name:   "deadline",
			err:    fmt.Errorf("call: %w", context.DeadlineExceeded),
			status: http.StatusServiceUnavailable, kind: domain.KindUnavailable, message: msgUnavailable,
		},
		{
			name:   "net error",
			err:    timeoutErr{},
			status: http.StatusServiceUnavailable, kind: domain.KindUnavailable, message: msgUnavailable,
		},
		{
			name:   "not found with message",
			err:    &domain.BackendError{StatusCode: 404, Body: []byte(`{"message":"Task not found"}`)},
			status: 404, kind: domain.KindClientError, message: "Task not found",
		},
		{
			name:   "validation array",
			err:    &domain.BackendError{StatusCode: 422, Body: []byte(`{"message":["title is required","due date invalid"]}`)},
			status: 422, kind: domain.KindClientError, message: "title is required; due date invalid",
		},
		{
			name:   "error field",
			err:    &domain.BackendError{StatusCode: 409, Body: []byte(`{"error":"version conflict"}`)},
			status: 409, kind: domain.KindClientError, message: "version conflict",
		},
		{
			name:   "nested error object",
			err:    &domain.BackendError{StatusCode: 400, Body: []byte(`{"error":{"message":"bad status"}}`)},
			status: 400, kind: domain.KindClientError, message: "bad status",
		},
		{
			name:   "detail field",
			err:    &domain.BackendError{StatusCode: 403, Body: []byte(`{"detail":"not a project member"}`)},
			status: 403, kind: domain.KindClientError, message: "not a project member",
		},
		{
			name:   "non json 4xx body",
			err:    &domain.BackendError{StatusCode: 404, Body: []byte(`<html>nope</html>`)},
			status: 404, kind: domain.KindClientError, message: "not found",
		},
		{
			name:   "server error hides body",
			err:    &domain.BackendError{StatusCode: 500, Body: []byte(`{"message":"pq: relation tasks does not exist"}`)},
			status: 500, kind: domain.KindServerError, message: "internal server error",
		},
		{
			name:   "bad gateway",
			err:    &domain.BackendError{StatusCode: 502},
			status: 502, kind: domain.KindServerError, message: "bad gateway",
		},
		{
			name:   "auth expired",
			err:    fmt.Errorf("%w: refresh rejected", domain.ErrAuthExpired),
			status: 401, kind: domain.KindUnauthorized, message: msgAuthExpired,
		},
		{
			name:   "auth required",
			err:    domain.ErrAuthRequired,
			status: 401, kind: domain.KindUnauthorized, message: msgAuthNeeded,
		},
		{
			name:   "routing",
			err:    &domain.RoutingError{Template: "/tasks/{id}", Param: "id"},
			status: 400, kind: domain.KindBadRequest, message: `missing path parameter "id"`,
		},
		{
			name:   "bad request",
			err:    fmt.Errorf("%w: request body exceeds 10 bytes", domain.ErrBadRequest),
			status: 400, kind: domain.KindBadRequest, message: "request body exceeds 10 bytes",
		},
		{
			name:   "unknown",
			err:    errors.New("nil map write"),
			status: 500, kind: domain.KindServerError, message: msgInternal,
		},
		{
			name:   "nil",
			err:    nil,
			status: 500, kind: domain.KindServerError, message: msgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.err)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestNormalizeNeverPanicsOnBackendBodies(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.IntRange(100, 599).Draw(t, "status")
		body := rapid.SliceOf(rapid.Byte()).Draw(t, "body")

		got := Normalize(&domain.BackendError{StatusCode: status, Body: body})
		if got.StatusCode < 400 || got.StatusCode > 599 {
			t.Fatalf("status %d normalized to non-error %d", status, got.StatusCode)
		}
		if got.Message == "" {
			t.Fatalf("empty message for status %d", status)
		}
		if len(got.Message) > maxMessageLen {
			t.Fatalf("message longer than %d bytes", maxMessageLen)
		}
	})
}
