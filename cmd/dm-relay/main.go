// ABOUTME: Entry point for the dm-relay direct-messaging server
// ABOUTME: Dispatches the serve, init, token and health subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/dm-relay/internal/config"
	"github.com/2389/dm-relay/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _                                  _
  __| |_ __ ___        _ __ ___| | __ _ _   _
 / _' | '_ ' _ \ _____| '__/ _ \ |/ _' | | | |
| (_| | | | | | |_____| | |  __/ | (_| | |_| |
 \__,_|_| |_| |_|     |_|  \___|_|\__,_|\__, |
                                        |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: DMRELAY_CONFIG env var > XDG_CONFIG_HOME/dm-relay/relay.yaml > ~/.config/dm-relay/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DMRELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "dm-relay", "relay.yaml")
}

// getDataPath returns the path to the dm-relay data directory.
// Priority: XDG_DATA_HOME/dm-relay > ~/.local/share/dm-relay
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "dm-relay")
}

func usage() {
	fmt.Println("Usage: dm-relay <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the relay server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  token --user ID [--name NAME]  Register a user and print a JWT for it")
	fmt.Println("  health                         Check relay health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		yellow.Println("    ! websocket origins unrestricted (server.allowed_origins is empty)")
	}
	fmt.Println()

	logger.Info("starting dm-relay",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}
