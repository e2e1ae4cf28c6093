package server

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("FLEETDECK_PASSWORD_HASH", "$2a$10$fakehash")
	t.Setenv("FLEETDECK_AGENT_TOKEN", "token")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":8000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.SessionDuration != 24*time.Hour {
		t.Errorf("SessionDuration = %v", cfg.SessionDuration)
	}
	if cfg.RateLimitRequests != 5 || cfg.RateLimitWindow != time.Minute {
		t.Errorf("rate limit = %d/%v", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	if cfg.DatabasePath != "/data/fleetdeck.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.HasTOTP() {
		t.Error("TOTP reported configured without a secret")
	}
}

func TestLoadConfigRequiredVars(t *testing.T) {
	t.Setenv("FLEETDECK_PASSWORD_HASH", "")
	t.Setenv("FLEETDECK_AGENT_TOKEN", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("missing required vars accepted")
	}
}

func TestLoadConfigRejectsNonPositiveRateLimit(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero requests", "FLEETDECK_RATE_LIMIT", "0"},
		{"negative requests", "FLEETDECK_RATE_LIMIT", "-1"},
		{"zero window", "FLEETDECK_RATE_WINDOW", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FLEETDECK_PASSWORD_HASH", "$2a$10$fakehash")
			t.Setenv("FLEETDECK_AGENT_TOKEN", "token")
			t.Setenv(tt.key, tt.value)

			// The limiter divides the window by the request count, so
			// these values must never reach NewAuthService.
			if _, err := LoadConfig(); err == nil {
				t.Errorf("%s=%s accepted", tt.key, tt.value)
			}
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("FLEETDECK_PASSWORD_HASH", "$2a$10$fakehash")
	t.Setenv("FLEETDECK_AGENT_TOKEN", "token")
	t.Setenv("FLEETDECK_LISTEN", ":9100")
	t.Setenv("FLEETDECK_SESSION_DURATION", "1h")
	t.Setenv("FLEETDECK_ALLOWED_ORIGINS", "https://fleet.example.com, https://ops.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ListenAddr != ":9100" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.SessionDuration != time.Hour {
		t.Errorf("SessionDuration = %v", cfg.SessionDuration)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://ops.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}
