// Package config handles agent configuration from environment variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all agent configuration.
type Config struct {
	// Connection
	ServerURL string // WebSocket URL (ws:// or wss://)
	Token     string // Agent authentication token

	// Envelope encryption. Must match the server's secret; empty means
	// plaintext frames (trusted-network mode).
	FleetSecret string

	// Identity
	RemoteID string // remote-access ID shown on the dashboard (optional)

	// Behavior
	ReportInterval time.Duration // How often to send telemetry
	LogLevel       string        // Logging level (debug, info, warn, error)

	// Derived
	Hostname string // System hostname
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		ReportInterval: 60 * time.Second,
		LogLevel:       "info",
		Hostname:       hostname,
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	// Required
	cfg.ServerURL = os.Getenv("FLEETDECK_URL")
	if cfg.ServerURL == "" {
		return nil, errors.New("FLEETDECK_URL is required")
	}

	cfg.Token = os.Getenv("FLEETDECK_TOKEN")
	if cfg.Token == "" {
		return nil, errors.New("FLEETDECK_TOKEN is required")
	}

	// Optional
	cfg.FleetSecret = os.Getenv("FLEETDECK_FLEET_SECRET")
	cfg.RemoteID = os.Getenv("FLEETDECK_REMOTE_ID")

	if interval := os.Getenv("FLEETDECK_INTERVAL"); interval != "" {
		seconds, err := strconv.Atoi(interval)
		if err != nil {
			return nil, errors.New("FLEETDECK_INTERVAL must be a number (seconds)")
		}
		cfg.ReportInterval = time.Duration(seconds) * time.Second
	}

	if level := os.Getenv("FLEETDECK_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	// Override hostname if specified
	if hostname := os.Getenv("FLEETDECK_HOSTNAME"); hostname != "" {
		cfg.Hostname = hostname
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if c.Token == "" {
		return errors.New("token is required")
	}
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}
	if len(c.Hostname) > 50 {
		return errors.New("hostname must be at most 50 characters")
	}
	if c.ReportInterval < time.Second {
		return errors.New("report interval must be at least 1 second")
	}
	return nil
}
