package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"

	"github.com/polisai/taskgate/pkg/domain"
)

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

// Is reports every configuration error as domain.ErrConfigInvalid.
func (e *ConfigError) Is(target error) bool {
	return target == domain.ErrConfigInvalid
}

// NewConfigMissingError reports a required field left empty.
func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

// NewConfigValidationError reports a field with an unusable value.
func NewConfigValidationError(field string, value interface{}, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// TLSConfig represents TLS termination for the inbound listener.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version,omitempty"`
}

// Validate checks that certificate material is configured and readable.
func (c *TLSConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return NewConfigMissingError("server.tls.cert_file")
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return NewConfigMissingError("server.tls.key_file")
	}
	for field, path := range map[string]string{"server.tls.cert_file": c.CertFile, "server.tls.key_file": c.KeyFile} {
		if _, err := os.Stat(path); err != nil {
			return NewConfigValidationError(field, path, fmt.Sprintf("file not accessible: %v", err))
		}
	}
	if _, err := ParseTLSVersion(c.MinVersion); err != nil {
		return NewConfigValidationError("server.tls.min_version", c.MinVersion, err.Error())
	}
	return nil
}

// ParseTLSVersion converts "1.2" or "1.3" into a crypto/tls version. Empty means 1.2.
func ParseTLSVersion(version string) (uint16, error) {
	switch strings.TrimSpace(version) {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q (want 1.2 or 1.3)", version)
	}
}

// ServerTLSConfig builds the crypto/tls configuration for the listener.
func (c *TLSConfig) ServerTLSConfig() (*tls.Config, error) {
	minVersion, err := ParseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   minVersion,
		Certificates: []tls.Certificate{cert},
	}, nil
}
