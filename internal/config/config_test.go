// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
  allowed_origins:
    - "http://localhost:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "s3cret"

sessions:
  ping_interval: "5s"
  pong_wait: "10s"
  write_wait: "2s"
  send_buffer: 32
  max_message_bytes: 1024

dedupe:
  ttl: "1m"
  max_entries: 50

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://localhost:8080" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Sessions.PingInterval != 5*time.Second {
		t.Errorf("Sessions.PingInterval = %v, want 5s", cfg.Sessions.PingInterval)
	}
	if cfg.Sessions.PongWait != 10*time.Second {
		t.Errorf("Sessions.PongWait = %v, want 10s", cfg.Sessions.PongWait)
	}
	if cfg.Sessions.WriteWait != 2*time.Second {
		t.Errorf("Sessions.WriteWait = %v, want 2s", cfg.Sessions.WriteWait)
	}
	if cfg.Sessions.SendBuffer != 32 {
		t.Errorf("Sessions.SendBuffer = %d, want 32", cfg.Sessions.SendBuffer)
	}
	if cfg.Sessions.MaxMessageBytes != 1024 {
		t.Errorf("Sessions.MaxMessageBytes = %d, want 1024", cfg.Sessions.MaxMessageBytes)
	}
	if cfg.Dedupe.TTL != time.Minute || cfg.Dedupe.MaxEntries != 50 {
		t.Errorf("Dedupe = %+v", cfg.Dedupe)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:9000"
database:
  path: ":memory:"
auth:
  jwt_secret: "x"
metrics:
  enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sessions.PongWait != DefaultPongWait {
		t.Errorf("PongWait = %v, want %v", cfg.Sessions.PongWait, DefaultPongWait)
	}
	if cfg.Sessions.PingInterval != DefaultPongWait*9/10 {
		t.Errorf("PingInterval = %v, want %v", cfg.Sessions.PingInterval, DefaultPongWait*9/10)
	}
	if cfg.Sessions.SendBuffer != DefaultSendBuffer {
		t.Errorf("SendBuffer = %d, want %d", cfg.Sessions.SendBuffer, DefaultSendBuffer)
	}
	if cfg.Dedupe.TTL != DefaultDedupeTTL {
		t.Errorf("Dedupe.TTL = %v, want %v", cfg.Dedupe.TTL, DefaultDedupeTTL)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_RELAY_SECRET", "from-env")
	t.Setenv("TEST_RELAY_DB", "/tmp/relay.db")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "${TEST_RELAY_DB}"
auth:
  jwt_secret: "${TEST_RELAY_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "from-env")
	}
	if cfg.Database.Path != "/tmp/relay.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/relay.db")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %v, want reading config file", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "x.db"
auth:
  jwt_secret: "x"
sessions:
  pong_wait: "soon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "sessions.pong_wait") {
		t.Errorf("error = %v, want mention of sessions.pong_wait", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Config{
			Server:   ServerConfig{HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: "relay.db"},
			Auth:     AuthConfig{JWTSecret: "x"},
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret"},
		{"ping not shorter than pong", func(c *Config) { c.Sessions.PingInterval = c.Sessions.PongWait }, "ping_interval"},
		{"negative buffer", func(c *Config) { c.Sessions.SendBuffer = -1 }, "send_buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
