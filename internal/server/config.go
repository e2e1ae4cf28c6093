// Package server implements the FleetDeck server: the websocket hub
// tracking agent presence, the command router, and the dashboard API.
package server

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds server configuration from environment variables.
type Config struct {
	// Server
	ListenAddr string

	// Authentication
	PasswordHash string // bcrypt hash for dashboard login
	TOTPSecret   string // optional, for 2FA
	AgentToken   string // token that agents must present

	// Envelope encryption. Empty means plaintext agent frames
	// (trusted-network mode).
	FleetSecret string

	// Session
	SessionDuration time.Duration

	// Rate limiting for login attempts
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Database
	DatabasePath string

	// Data directory
	DataDir string

	// Security
	AllowedOrigins []string // optional, for WebSocket origin validation
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	dataDir := getEnv("FLEETDECK_DATA_DIR", "/data")

	cfg := &Config{
		ListenAddr:        getEnv("FLEETDECK_LISTEN", ":8000"),
		PasswordHash:      os.Getenv("FLEETDECK_PASSWORD_HASH"),
		TOTPSecret:        os.Getenv("FLEETDECK_TOTP_SECRET"), // optional
		AgentToken:        os.Getenv("FLEETDECK_AGENT_TOKEN"),
		FleetSecret:       os.Getenv("FLEETDECK_FLEET_SECRET"), // optional
		SessionDuration:   parseDuration("FLEETDECK_SESSION_DURATION", 24*time.Hour),
		RateLimitRequests: parseInt("FLEETDECK_RATE_LIMIT", 5),
		RateLimitWindow:   parseDuration("FLEETDECK_RATE_WINDOW", 1*time.Minute),
		DatabasePath:      getEnv("FLEETDECK_DB_PATH", dataDir+"/fleetdeck.db"),
		DataDir:           dataDir,
		AllowedOrigins:    parseOrigins("FLEETDECK_ALLOWED_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []string

	if c.PasswordHash == "" {
		errs = append(errs, "FLEETDECK_PASSWORD_HASH is required")
	}
	if c.AgentToken == "" {
		errs = append(errs, "FLEETDECK_AGENT_TOKEN is required")
	}
	if c.RateLimitRequests < 1 {
		errs = append(errs, "FLEETDECK_RATE_LIMIT must be positive")
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, "FLEETDECK_RATE_WINDOW must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// HasTOTP returns true if TOTP is configured.
func (c *Config) HasTOTP() bool {
	return c.TOTPSecret != ""
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseOrigins(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
