// ABOUTME: Configuration loading and parsing for dm-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete dm-relay configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Sessions SessionsConfig `yaml:"sessions"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// AllowedOrigins restricts websocket upgrades by Origin header. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// SessionsConfig holds websocket session tuning
type SessionsConfig struct {
	PingInterval time.Duration `yaml:"-"`
	PongWait     time.Duration `yaml:"-"`
	WriteWait    time.Duration `yaml:"-"`

	SendBuffer      int   `yaml:"send_buffer"`
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// Raw string values for YAML unmarshaling
	PingIntervalRaw string `yaml:"ping_interval"`
	PongWaitRaw     string `yaml:"pong_wait"`
	WriteWaitRaw    string `yaml:"write_wait"`
}

// DedupeConfig controls the client message id retry cache
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-"`
	MaxEntries int           `yaml:"max_entries"`

	TTLRaw string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults used when a value is absent from the file.
const (
	DefaultPingInterval    = 18 * time.Second
	DefaultPongWait        = 20 * time.Second
	DefaultWriteWait       = 10 * time.Second
	DefaultSendBuffer      = 256
	DefaultMaxMessageBytes = 64 * 1024
	DefaultDedupeTTL       = 10 * time.Minute
	DefaultDedupeEntries   = 10000
	DefaultMetricsPath     = "/metrics"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Sessions.PingInterval >= c.Sessions.PongWait {
		return fmt.Errorf("sessions.ping_interval (%s) must be shorter than sessions.pong_wait (%s)",
			c.Sessions.PingInterval, c.Sessions.PongWait)
	}

	if c.Sessions.SendBuffer < 1 {
		return fmt.Errorf("sessions.send_buffer must be positive")
	}

	return nil
}

// applyDefaults fills zero values with the package defaults
func (c *Config) applyDefaults() {
	if c.Sessions.PongWait == 0 {
		c.Sessions.PongWait = DefaultPongWait
	}
	if c.Sessions.PingInterval == 0 {
		c.Sessions.PingInterval = c.Sessions.PongWait * 9 / 10
	}
	if c.Sessions.WriteWait == 0 {
		c.Sessions.WriteWait = DefaultWriteWait
	}
	if c.Sessions.SendBuffer == 0 {
		c.Sessions.SendBuffer = DefaultSendBuffer
	}
	if c.Sessions.MaxMessageBytes == 0 {
		c.Sessions.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = DefaultDedupeEntries
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sessions.ping_interval", cfg.Sessions.PingIntervalRaw, &cfg.Sessions.PingInterval},
		{"sessions.pong_wait", cfg.Sessions.PongWaitRaw, &cfg.Sessions.PongWait},
		{"sessions.write_wait", cfg.Sessions.WriteWaitRaw, &cfg.Sessions.WriteWait},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
