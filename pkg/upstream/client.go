package upstream

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ClientConfig controls the shared backend HTTP client.
type ClientConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	CAFile              string        `yaml:"ca_file"`
	InsecureSkipVerify  bool          `yaml:"insecure_skip_verify"`
}

// DefaultClientConfig returns pooling settings suited to a single backend host.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		HandshakeTimeout:    10 * time.Second,
	}
}

// NewHTTPClient builds a pooled client whose transport emits OpenTelemetry client spans
// and propagates trace context to the backend. Timeouts are applied per attempt by the
// Executor, so the client itself has none.
func NewHTTPClient(cfg ClientConfig) (*http.Client, error) {
	defaults := DefaultClientConfig()
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaults.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = defaults.IdleConnTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, // #nosec G402 -- opt-in for development backends
		ClientSessionCache: tls.NewLRUClientSessionCache(256),
	}
	if cfg.CAFile != "" {
		// #nosec G304 -- CA path comes from operator configuration
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read backend CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("backend CA file %s contains no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:     tlsConfig,
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
		// Redirects are returned to the client untouched.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}
