package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FLEETDECK_URL", "wss://fleet.example.com/ws")
	t.Setenv("FLEETDECK_TOKEN", "token")
	t.Setenv("FLEETDECK_HOSTNAME", "web-01")
	t.Setenv("FLEETDECK_REMOTE_ID", "123456789")
	t.Setenv("FLEETDECK_INTERVAL", "30")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.ServerURL != "wss://fleet.example.com/ws" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Hostname != "web-01" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
	if cfg.RemoteID != "123456789" {
		t.Errorf("RemoteID = %q", cfg.RemoteID)
	}
	if cfg.ReportInterval != 30*time.Second {
		t.Errorf("ReportInterval = %v", cfg.ReportInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromEnvRequiredVars(t *testing.T) {
	t.Setenv("FLEETDECK_URL", "")
	t.Setenv("FLEETDECK_TOKEN", "")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("missing FLEETDECK_URL accepted")
	}

	t.Setenv("FLEETDECK_URL", "wss://fleet.example.com/ws")
	if _, err := LoadFromEnv(); err == nil {
		t.Error("missing FLEETDECK_TOKEN accepted")
	}
}
