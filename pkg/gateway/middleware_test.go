package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 500))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Len(t, seen, 36, "oversized ids are replaced")
}

func TestForwardHeadersAllowList(t *testing.T) {
	src := http.Header{}
	src.Set("Authorization", "Bearer x")
	src.Set("Cookie", "a=b")
	src.Set("Content-Type", "application/json")
	src.Set("If-Match", `"v1"`)
	src.Set(RequestIDHeader, "rid")

	got := forwardHeaders(src)
	assert.Empty(t, got.Get("Authorization"))
	assert.Empty(t, got.Get("Cookie"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, `"v1"`, got.Get("If-Match"))
	assert.Equal(t, "rid", got.Get(RequestIDHeader))
}
