package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polisai/taskgate/pkg/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
  prefix: "/gateway"
  max_body_bytes: 4096
backend:
  base_url: "https://api.example.com/v1"
  timeout: 5s
  refresh_path: "/token/refresh"
  breaker:
    max_failures: 0
tokens:
  store: redis
  refresh_skew: 30s
  redis:
    addr: "localhost:6379"
    key: "tg:tokens"
resources:
  - template: "/boards"
    label: BoardListAPI
    methods: [get, post]
  - template: "/boards/[boardId]"
    label: BoardDetailAPI
telemetry:
  endpoint: "localhost:4317"
  insecure: true
  sample_ratio: 0.25
metrics:
  enabled: false
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Address != ":9000" || cfg.Server.Prefix != "/gateway" || cfg.Server.MaxBodyBytes != 4096 {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Backend.Timeout != 5*time.Second {
		t.Errorf("expected backend timeout 5s, got %v", cfg.Backend.Timeout)
	}
	if cfg.Backend.RefreshPath != "/token/refresh" {
		t.Errorf("expected refresh path override, got %q", cfg.Backend.RefreshPath)
	}
	if cfg.Backend.Breaker.MaxFailures != 0 || cfg.Backend.Breaker.Cooldown != 30*time.Second {
		t.Errorf("expected breaker disabled with default cooldown, got %+v", cfg.Backend.Breaker)
	}
	if cfg.Backend.LoginPath != "/auth/login" {
		t.Errorf("expected default login path to survive, got %q", cfg.Backend.LoginPath)
	}
	if cfg.Tokens.Store != StoreRedis || cfg.Tokens.Redis.Key != "tg:tokens" || cfg.Tokens.RefreshSkew != 30*time.Second {
		t.Errorf("unexpected tokens config %+v", cfg.Tokens)
	}
	if len(cfg.Resources) != 2 {
		t.Fatalf("expected configured resources to replace defaults, got %d", len(cfg.Resources))
	}
	if got := cfg.Resources[0].AllowedMethods(); len(got) != 2 || got[0] != "GET" || got[1] != "POST" {
		t.Errorf("unexpected methods %v", got)
	}
	if len(cfg.Resources[1].AllowedMethods()) != len(domain.SupportedMethods) {
		t.Errorf("expected all methods for route without a method list")
	}
	if cfg.Telemetry.Endpoint != "localhost:4317" || !cfg.Telemetry.Insecure || cfg.Telemetry.SampleRatio != 0.25 {
		t.Errorf("unexpected telemetry config %+v", cfg.Telemetry)
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics disabled")
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "debug" {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("TASKGATE_BACKEND_URL", "http://localhost:3000")
	t.Setenv("TASKGATE_ADDR", ":7070")
	t.Setenv("TASKGATE_TOKEN_STORE", "memory")
	t.Setenv("TASKGATE_BACKEND_TIMEOUT", "2s")
	t.Setenv("TASKGATE_METRICS_ENABLED", "false")
	t.Setenv("TASKGATE_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.BaseURL != "http://localhost:3000" {
		t.Errorf("expected env base url, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("expected env address, got %q", cfg.Server.Address)
	}
	if cfg.Tokens.Store != StoreMemory {
		t.Errorf("expected memory store, got %q", cfg.Tokens.Store)
	}
	if cfg.Backend.Timeout != 2*time.Second {
		t.Errorf("expected 2s timeout, got %v", cfg.Backend.Timeout)
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics disabled by env")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected warn level, got %q", cfg.Logging.Level)
	}
	if len(cfg.Resources) != len(DefaultRoutes()) {
		t.Errorf("expected default routes, got %d", len(cfg.Resources))
	}
}

func TestLoadOverridesWinOverEnv(t *testing.T) {
	t.Setenv("TASKGATE_BACKEND_URL", "http://env.example")
	t.Setenv("TASKGATE_TOKEN_STORE", "memory")

	cfg, err := Load("", func(c *Config) {
		c.Backend.BaseURL = "http://flag.example"
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Backend.BaseURL != "http://flag.example" {
		t.Errorf("expected override base url, got %q", cfg.Backend.BaseURL)
	}

	_, err = Load("", func(c *Config) { c.Backend.BaseURL = "not a url" })
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("expected overrides to be validated, got %v", err)
	}
}

func TestLoadRoutes(t *testing.T) {
	routes, err := LoadRoutes("")
	if err != nil {
		t.Fatalf("Failed to load default routes: %v", err)
	}
	if len(routes) != len(DefaultRoutes()) {
		t.Errorf("expected default routes, got %d", len(routes))
	}

	path := writeConfig(t, `
resources:
  - template: /notes/[noteId]
    label: NoteAPI
    methods: [GET]
`)
	routes, err = LoadRoutes(path)
	if err != nil {
		t.Fatalf("Failed to load routes: %v", err)
	}
	if len(routes) != 1 || routes[0].Label != "NoteAPI" {
		t.Errorf("unexpected routes: %+v", routes)
	}

	bad := writeConfig(t, `
resources:
  - template: /notes/{id
    label: Broken
`)
	if _, err := LoadRoutes(bad); err == nil {
		t.Error("expected malformed template to be rejected")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing base url", `backend: {base_url: ""}`},
		{"relative base url", `backend: {base_url: "api.example.com"}`},
		{"unknown store", "backend: {base_url: \"http://b\"}\ntokens: {store: etcd}"},
		{"redis without addr", "backend: {base_url: \"http://b\"}\ntokens: {store: redis}"},
		{"bad template", "backend: {base_url: \"http://b\"}\nresources: [{template: \"/tasks/{id\", label: T}]"},
		{"duplicate label", "backend: {base_url: \"http://b\"}\nresources: [{template: /a, label: X}, {template: /b, label: X}]"},
		{"duplicate template", "backend: {base_url: \"http://b\"}\nresources: [{template: \"/a/{id}\", label: X}, {template: \"/a/[id]\", label: Y}]"},
		{"bad method", "backend: {base_url: \"http://b\"}\nresources: [{template: /a, label: X, methods: [TRACE]}]"},
		{"bad log level", "backend: {base_url: \"http://b\"}\nlogging: {level: loud}"},
		{"bad log format", "backend: {base_url: \"http://b\"}\nlogging: {format: xml}"},
		{"bad sample ratio", "backend: {base_url: \"http://b\"}\ntelemetry: {sample_ratio: 2}"},
		{"tls without cert", "backend: {base_url: \"http://b\"}\nserver: {tls: {enabled: true}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestConfigErrorsMatchSentinel(t *testing.T) {
	_, err := Load(writeConfig(t, `backend: {base_url: ""}`))
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestDefaultRoutesAreValid(t *testing.T) {
	if err := ValidateRoutes(DefaultRoutes()); err != nil {
		t.Fatalf("default routes invalid: %v", err)
	}

	var profile, detail int
	for i, r := range DefaultRoutes() {
		switch r.Template {
		case "/users/profile":
			profile = i
		case "/users/{id}":
			detail = i
		}
	}
	if profile > detail {
		t.Fatalf("/users/profile must be mounted before /users/{id}")
	}
}

func TestParseTLSVersion(t *testing.T) {
	if _, err := ParseTLSVersion("1.0"); err == nil {
		t.Fatal("expected TLS 1.0 to be rejected")
	}
	if _, err := ParseTLSVersion("1.3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
