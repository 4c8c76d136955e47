package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/taskgate/pkg/domain"
)

func TestHTTPRefresherSuccess(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"accessToken":"a2","refreshToken":"r2"}}`))
	}))
	defer server.Close()

	r := NewHTTPRefresher(server.URL+"/", "/auth/refresh", server.Client(), discardLogger())
	pair, err := r.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenPair{AccessToken: "a2", RefreshToken: "r2"}, pair)
	assert.Equal(t, "r1", got["refreshToken"])
}

func TestHTTPRefresherRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"refresh token revoked"}`))
	}))
	defer server.Close()

	r := NewHTTPRefresher(server.URL, "/auth/refresh", nil, nil)
	_, err := r.Refresh(context.Background(), "r1")
	require.Error(t, err)

	var be *domain.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnauthorized, be.StatusCode)
	assert.Contains(t, string(be.Body), "revoked")
}

func TestHTTPRefresherUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	r := NewHTTPRefresher(url, "/auth/refresh", nil, nil)
	_, err := r.Refresh(context.Background(), "r1")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}
