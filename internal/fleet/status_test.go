package fleet

import (
	"testing"
	"time"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		lastUpdate time.Time
		want       Status
	}{
		{"just reported", now, StatusOnline},
		{"within online window", now.Add(-5 * time.Minute), StatusOnline},
		{"six minutes ago", now.Add(-6 * time.Minute), StatusIdle},
		{"exactly one hour", now.Add(-time.Hour), StatusIdle},
		{"two hours ago", now.Add(-2 * time.Hour), StatusOffline},
		{"never reported", time.Time{}, StatusOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(now, tt.lastUpdate); got != tt.want {
				t.Errorf("DeriveStatus = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeriveColor(t *testing.T) {
	tests := []struct {
		name string
		cpu  float64
		want Color
	}{
		{"idle", 0, ColorGreen},
		{"just below yellow", 49, ColorGreen},
		{"yellow boundary", 50, ColorYellow},
		{"top of yellow", 79, ColorYellow},
		{"red boundary", 80, ColorRed},
		{"pegged", 100, ColorRed},
		{"negative clamps to green", -3, ColorGreen},
		{"overflow clamps to red", 250, ColorRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveColor(tt.cpu); got != tt.want {
				t.Errorf("DeriveColor(%v) = %q, want %q", tt.cpu, got, tt.want)
			}
		})
	}
}
