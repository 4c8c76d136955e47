// Package config provides configuration structures and loading logic for the gateway.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/taskgate/pkg/domain"
	"github.com/polisai/taskgate/pkg/logging"
	"github.com/polisai/taskgate/pkg/pathtmpl"
	"github.com/polisai/taskgate/pkg/telemetry"
	"github.com/polisai/taskgate/pkg/tokens"
	"github.com/polisai/taskgate/pkg/upstream"
)

// Token store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds the global configuration for the gateway.
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Backend   BackendConfig          `yaml:"backend"`
	Tokens    TokensConfig           `yaml:"tokens"`
	Resources []domain.ResourceRoute `yaml:"resources"`
	Telemetry telemetry.Config       `yaml:"telemetry"`
	Metrics   MetricsConfig          `yaml:"metrics"`
	Logging   logging.Config         `yaml:"logging"`
}

// ServerConfig holds configuration for the inbound HTTP server.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	Prefix          string        `yaml:"prefix"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             *TLSConfig    `yaml:"tls,omitempty"`
}

// BackendConfig describes the REST API requests are forwarded to.
type BackendConfig struct {
	BaseURL          string                 `yaml:"base_url"`
	Timeout          time.Duration          `yaml:"timeout"`
	RefreshPath      string                 `yaml:"refresh_path"`
	LoginPath        string                 `yaml:"login_path"`
	RegisterPath     string                 `yaml:"register_path"`
	LogoutPath       string                 `yaml:"logout_path"`
	MaxResponseBytes int64                  `yaml:"max_response_bytes"`
	Client           upstream.ClientConfig  `yaml:"client"`
	Breaker          upstream.BreakerConfig `yaml:"breaker"`
}

// TokensConfig selects where the token pair is persisted.
type TokensConfig struct {
	Store       string             `yaml:"store"`
	File        string             `yaml:"file"`
	Watch       bool               `yaml:"watch"`
	Redis       tokens.RedisConfig `yaml:"redis"`
	RefreshSkew time.Duration      `yaml:"refresh_skew"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			Prefix:          "/api",
			MaxBodyBytes:    1 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			Timeout:          upstream.DefaultTimeout,
			RefreshPath:      "/auth/refresh",
			LoginPath:        "/auth/login",
			RegisterPath:     "/auth/register",
			LogoutPath:       "/auth/logout",
			MaxResponseBytes: upstream.DefaultMaxResponseBytes,
			Client:           upstream.DefaultClientConfig(),
			Breaker:          upstream.BreakerConfig{MaxFailures: 5, Cooldown: 30 * time.Second},
		},
		Tokens: TokensConfig{
			Store: StoreFile,
			File:  defaultTokenFile(),
			Watch: true,
			Redis: tokens.RedisConfig{Key: tokens.DefaultRedisKey},
		},
		Resources: DefaultRoutes(),
		Telemetry: telemetry.Config{ServiceName: telemetry.DefaultServiceName},
		Metrics:   MetricsConfig{Enabled: true},
		Logging:   logging.Config{Level: "info", Format: "json"},
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".taskgate", "tokens.json")
	}
	return filepath.Join(dir, "taskgate", "tokens.json")
}

// Load reads configuration from a file and applies environment variable overrides,
// then the given overrides in order. An empty path yields the defaults plus overrides.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("TASKGATE_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("TASKGATE_PREFIX"); val != "" {
		cfg.Server.Prefix = val
	}

	if val := os.Getenv("TASKGATE_BACKEND_URL"); val != "" {
		cfg.Backend.BaseURL = val
	}
	if val := os.Getenv("TASKGATE_BACKEND_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return NewConfigValidationError("TASKGATE_BACKEND_TIMEOUT", val, err.Error())
		}
		cfg.Backend.Timeout = d
	}

	if val := os.Getenv("TASKGATE_TOKEN_STORE"); val != "" {
		cfg.Tokens.Store = val
	}
	if val := os.Getenv("TASKGATE_TOKEN_FILE"); val != "" {
		cfg.Tokens.File = val
	}
	if val := os.Getenv("TASKGATE_REDIS_ADDR"); val != "" {
		cfg.Tokens.Redis.Addr = val
	}
	if val := os.Getenv("TASKGATE_REDIS_PASSWORD"); val != "" {
		cfg.Tokens.Redis.Password = val
	}
	if val := os.Getenv("TASKGATE_REFRESH_SKEW"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return NewConfigValidationError("TASKGATE_REFRESH_SKEW", val, err.Error())
		}
		cfg.Tokens.RefreshSkew = d
	}

	if val := os.Getenv("TASKGATE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.Endpoint = val
	}
	if val := os.Getenv("TASKGATE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("TASKGATE_METRICS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return NewConfigValidationError("TASKGATE_METRICS_ENABLED", val, "must be true or false")
		}
		cfg.Metrics.Enabled = enabled
	}

	if val := os.Getenv("TASKGATE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("TASKGATE_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("TASKGATE_TLS_CERT_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.Enabled = true
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("TASKGATE_TLS_KEY_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.KeyFile = val
	}
	return nil
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend configuration: %w", err)
	}
	if err := c.Tokens.Validate(); err != nil {
		return fmt.Errorf("tokens configuration: %w", err)
	}
	if err := ValidateRoutes(c.Resources); err != nil {
		return fmt.Errorf("resources configuration: %w", err)
	}
	if err := validateTelemetry(&c.Telemetry); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging configuration: invalid log level %q, supported levels: debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = ":8080"
	}
	if c.Prefix != "" && !strings.HasPrefix(c.Prefix, "/") {
		return NewConfigValidationError("server.prefix", c.Prefix, "must start with /")
	}
	if c.MaxBodyBytes < 0 {
		return NewConfigValidationError("server.max_body_bytes", c.MaxBodyBytes, "must not be negative")
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// Validate performs validation of backend configuration
func (c *BackendConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return NewConfigMissingError("backend.base_url")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewConfigValidationError("backend.base_url", c.BaseURL, "must be an absolute http or https URL")
	}
	if c.Timeout <= 0 {
		return NewConfigValidationError("backend.timeout", c.Timeout, "must be positive")
	}
	if c.Breaker.MaxFailures < 0 {
		return NewConfigValidationError("backend.breaker.max_failures", c.Breaker.MaxFailures, "must not be negative")
	}
	for field, path := range map[string]string{
		"backend.refresh_path":  c.RefreshPath,
		"backend.login_path":    c.LoginPath,
		"backend.register_path": c.RegisterPath,
		"backend.logout_path":   c.LogoutPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return NewConfigValidationError(field, path, "must start with /")
		}
	}
	return nil
}

// Validate performs validation of token persistence configuration
func (c *TokensConfig) Validate() error {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case "", StoreMemory:
		c.Store = StoreMemory
	case StoreFile:
		if strings.TrimSpace(c.File) == "" {
			return NewConfigMissingError("tokens.file")
		}
	case StoreRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return NewConfigMissingError("tokens.redis.addr")
		}
	default:
		return NewConfigValidationError("tokens.store", c.Store, "must be memory, file, or redis")
	}
	if c.RefreshSkew < 0 {
		return NewConfigValidationError("tokens.refresh_skew", c.RefreshSkew, "must not be negative")
	}
	return nil
}

// ValidateRoutes checks every template and rejects duplicate labels, duplicate
// templates, and unknown verbs.
func ValidateRoutes(routes []domain.ResourceRoute) error {
	if len(routes) == 0 {
		return NewConfigMissingError("resources")
	}

	labels := make(map[string]struct{}, len(routes))
	templates := make(map[string]struct{}, len(routes))
	for i, r := range routes {
		if strings.TrimSpace(r.Label) == "" {
			return NewConfigMissingError(fmt.Sprintf("resources[%d].label", i))
		}
		if _, dup := labels[r.Label]; dup {
			return NewConfigValidationError(fmt.Sprintf("resources[%d].label", i), r.Label, "duplicate label")
		}
		labels[r.Label] = struct{}{}

		if err := pathtmpl.Validate(r.Template); err != nil {
			return NewConfigValidationError(fmt.Sprintf("resources[%d].template", i), r.Template, err.Error())
		}
		canonical, _ := pathtmpl.Canonical(r.Template)
		if _, dup := templates[canonical]; dup {
			return NewConfigValidationError(fmt.Sprintf("resources[%d].template", i), r.Template, "duplicate template")
		}
		templates[canonical] = struct{}{}

		for _, m := range r.Methods {
			if !isSupportedMethod(m) {
				return NewConfigValidationError(fmt.Sprintf("resources[%d].methods", i), m, "unsupported method")
			}
		}
	}
	return nil
}

func isSupportedMethod(m string) bool {
	for _, s := range domain.SupportedMethods {
		if strings.EqualFold(s, m) {
			return true
		}
	}
	return false
}

func validateTelemetry(c *telemetry.Config) error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return NewConfigValidationError("telemetry.sample_ratio", c.SampleRatio, "must be between 0 and 1")
	}
	return nil
}
