// Package config provides configuration loading for the opatlas server.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opatlas/opatlas/pkg/observability"
)

// Config is the main configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Storage backends.
const (
	StorageBackendMemory = "memory"
	StorageBackendSQLite = "sqlite"
)

// StorageConfig selects and configures the store backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite". The memory backend loses all
	// records on restart and exists for demos and tests.
	Backend string `yaml:"backend"`

	// Path is the data directory for the sqlite backend.
	Path string `yaml:"path,omitempty"`
}

// AuthConfig holds session token configuration.
type AuthConfig struct {
	// Enabled turns on bearer-token session auth. When disabled every
	// request runs as a demo owner session.
	Enabled bool `yaml:"enabled"`

	// SecretKey signs session tokens (HS256).
	SecretKey string `yaml:"secret_key,omitempty"`

	// TokenTTL is how long issued session tokens stay valid.
	TokenTTL time.Duration `yaml:"token_ttl,omitempty"`
}

// RateLimitConfig holds rate limiting configuration for mutating
// endpoints.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerSecond float64  `yaml:"requests_per_second,omitempty"`
	BurstSize         int      `yaml:"burst_size,omitempty"`
	BlockDuration     string   `yaml:"block_duration,omitempty"`
	TrustedProxies    []string `yaml:"trusted_proxies,omitempty"`
}

// GetRequestsPerSecond returns the configured rate or a default.
func (c RateLimitConfig) GetRequestsPerSecond() float64 {
	if c.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RequestsPerSecond
}

// GetBurstSize returns the configured burst or a default.
func (c RateLimitConfig) GetBurstSize() int {
	if c.BurstSize <= 0 {
		return 20
	}
	return c.BurstSize
}

// GetBlockDuration returns the configured block duration or a default.
func (c RateLimitConfig) GetBlockDuration() time.Duration {
	d, err := time.ParseDuration(c.BlockDuration)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// ObservabilityConfig holds logging and metrics configuration.
type ObservabilityConfig struct {
	Logging        observability.LoggerConfig `yaml:"logging"`
	MetricsEnabled bool                       `yaml:"metrics_enabled"`
}

// Load loads configuration from a YAML file with environment variable
// substitution. An empty path falls back to $CONFIG_PATH, then
// "config.yaml"; a missing default file yields the built-in defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		if path == "" {
			path = "config.yaml"
		}
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		substituted := substituteEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; run on defaults.
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageBackendMemory
	}
	if cfg.Storage.Backend == StorageBackendSQLite && cfg.Storage.Path == "" {
		cfg.Storage.Path = "data"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	cfg.Observability.Logging.ApplyDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageBackendMemory, StorageBackendSQLite:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q",
			StorageBackendMemory, StorageBackendSQLite, c.Storage.Backend)
	}

	if c.Auth.Enabled && c.Auth.SecretKey == "" {
		return fmt.Errorf("auth.secret_key is required when auth is enabled")
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	return nil
}

// envVarPattern matches ${VAR_NAME} and ${VAR_NAME:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} with
// environment values. Comment lines are skipped; missing variables without
// a default become empty strings.
func substituteEnvVars(content string) string {
	lines := strings.Split(content, "\n")

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		lines[i] = envVarPattern.ReplaceAllStringFunc(line, func(match string) string {
			parts := envVarPattern.FindStringSubmatch(match)
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return parts[2]
		})
	}

	return strings.Join(lines, "\n")
}
