// ABOUTME: "token" command that registers a user in the local store and prints a JWT
// ABOUTME: Development helper; production tokens come from the external login service

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/dm-relay/internal/auth"
	"github.com/2389/dm-relay/internal/config"
	"github.com/2389/dm-relay/internal/gateway"
	"github.com/2389/dm-relay/internal/store"
)

// defaultTokenTTL is 30 days.
const defaultTokenTTL = 30 * 24 * time.Hour

type tokenArgs struct {
	UserID string
	Name   string
	Email  string
	TTL    time.Duration
}

// parseTokenArgs supports both "--flag value" and "--flag=value".
func parseTokenArgs(args []string) (tokenArgs, error) {
	parsed := tokenArgs{TTL: defaultTokenTTL}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		if !strings.HasPrefix(name, "-") {
			return parsed, fmt.Errorf("unexpected argument: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return parsed, fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}

		switch name {
		case "--user", "-u":
			parsed.UserID = strings.TrimSpace(value)
		case "--name", "-n":
			parsed.Name = strings.TrimSpace(value)
		case "--email":
			parsed.Email = strings.TrimSpace(value)
		case "--ttl":
			d, err := time.ParseDuration(value)
			if err != nil {
				return parsed, fmt.Errorf("parsing --ttl: %w", err)
			}
			if d <= 0 {
				return parsed, errors.New("--ttl must be positive")
			}
			parsed.TTL = d
		default:
			return parsed, fmt.Errorf("unknown flag: %s", name)
		}
	}

	if parsed.UserID == "" {
		return parsed, errors.New("--user flag is required")
	}
	if parsed.Name == "" {
		parsed.Name = parsed.UserID
	}
	return parsed, nil
}

func runToken(ctx context.Context, args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dbPath := cfg.Database.Path
	if envPath := os.Getenv(gateway.EnvDBPath); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	token, err := issueToken(ctx, s, []byte(cfg.Auth.JWTSecret), parsed)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ User %s (%s) registered in %s\n", parsed.UserID, parsed.Name, dbPath)
	fmt.Printf("  expires: %s\n\n", time.Now().Add(parsed.TTL).UTC().Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

// issueToken upserts the user and signs a token for it.
func issueToken(ctx context.Context, users store.UserStore, secret []byte, parsed tokenArgs) (string, error) {
	verifier, err := auth.NewJWTVerifier(secret)
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}

	user := &store.User{
		ID:    parsed.UserID,
		Name:  parsed.Name,
		Email: parsed.Email,
	}
	if err := users.UpsertUser(ctx, user); err != nil {
		return "", fmt.Errorf("registering user: %w", err)
	}

	token, err := verifier.Generate(parsed.UserID, parsed.TTL)
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return token, nil
}
