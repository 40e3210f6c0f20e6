// ABOUTME: Interactive "init" command that writes a relay config file
// ABOUTME: Generates a random JWT secret so a fresh install is runnable immediately

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers holds everything the init prompts collect.
type initAnswers struct {
	HTTPAddr       string
	DBPath         string
	JWTSecret      string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string
	Metrics        bool
}

func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// renderConfig produces the YAML written by init.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# dm-relay configuration\n")
	cfg.WriteString("# Generated by dm-relay init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	if len(a.AllowedOrigins) > 0 {
		cfg.WriteString("  allowed_origins:\n")
		for _, o := range a.AllowedOrigins {
			cfg.WriteString(fmt.Sprintf("    - %q\n", o))
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DBPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", a.JWTSecret))
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  ping_interval: \"18s\"\n")
	cfg.WriteString("  pong_wait: \"20s\"\n")
	cfg.WriteString("  write_wait: \"10s\"\n")
	cfg.WriteString("  send_buffer: 256\n")
	cfg.WriteString("  max_message_bytes: 65536\n")
	cfg.WriteString("\n")

	cfg.WriteString("dedupe:\n")
	cfg.WriteString("  ttl: \"10m\"\n")
	cfg.WriteString("  max_entries: 10000\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.Metrics))
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "dm-relay configuration setup")
	fmt.Fprintln(out, "============================")
	fmt.Fprintln(out)

	defaultDBPath := filepath.Join(getDataPath(), "relay.db")

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	answers := initAnswers{JWTSecret: secret}
	answers.HTTPAddr = prompt(reader, out, "HTTP address", "localhost:8080")
	answers.AllowedOrigins = splitOrigins(prompt(reader, out, "Allowed websocket origins (comma separated, empty for any)", ""))

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	answers.DBPath = prompt(reader, out, "SQLite database path", defaultDBPath)

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	answers.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	answers.LogFormat = prompt(reader, out, "Log format (text/json)", "text")
	answers.Metrics = isYes(prompt(reader, out, "Expose Prometheus metrics?", "no"))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file holds the JWT secret.
	if err := os.WriteFile(outputFile, []byte(renderConfig(answers)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(answers.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  dm-relay token --user alice   # mint a development token")
	fmt.Fprintln(out, "  dm-relay serve")

	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
