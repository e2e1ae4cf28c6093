package protocol

import (
	"strings"
	"testing"
)

func TestJoinPayloadValidate(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		wantErr  bool
	}{
		{"valid", "web-01", false},
		{"empty", "", true},
		{"at limit", strings.Repeat("a", MaxHostnameLen), false},
		{"over limit", strings.Repeat("a", MaxHostnameLen+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := JoinPayload{Hostname: tt.hostname}
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDispatchPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload DispatchPayload
		wantErr bool
	}{
		{"check", DispatchPayload{Hostname: "web-01", Kind: CommandCheck}, false},
		{"restart", DispatchPayload{Hostname: "web-01", Kind: CommandRestart}, false},
		{"unknown kind", DispatchPayload{Hostname: "web-01", Kind: "format-disk"}, true},
		{"missing kind", DispatchPayload{Hostname: "web-01"}, true},
		{"missing hostname", DispatchPayload{Kind: CommandCheck}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDynamicReportOmitsAbsentFields(t *testing.T) {
	msg, err := NewMessage(TypeTelemetry, TelemetryPayload{Hostname: "web-01"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	raw := string(msg.Payload)
	for _, field := range []string{"cpu_usage", "memory_usage", "disk_usage", "network_bytes", "ip_address", "timestamp"} {
		if strings.Contains(raw, field) {
			t.Errorf("absent field %q serialized: %s", field, raw)
		}
	}
}

func TestParsePayloadRoundTrip(t *testing.T) {
	cpu := 73.5
	msg, err := NewMessage(TypeTelemetry, TelemetryPayload{
		Hostname: "web-01",
		Dynamic:  DynamicReport{CPUUsage: &cpu},
	})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}

	var got TelemetryPayload
	if err := msg.ParsePayload(&got); err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if got.Hostname != "web-01" {
		t.Errorf("hostname = %q", got.Hostname)
	}
	if got.Dynamic.CPUUsage == nil || *got.Dynamic.CPUUsage != 73.5 {
		t.Errorf("cpu = %v", got.Dynamic.CPUUsage)
	}
	if got.Dynamic.MemoryUsage != nil {
		t.Error("absent field came back non-nil")
	}
}
