package fleet

import (
	"testing"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

func f64(v float64) *float64 { return &v }
func u64(v uint64) *uint64   { return &v }
func str(v string) *string   { return &v }

func TestMergeDynamicPreservesOmittedFields(t *testing.T) {
	arrival := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	existing := DynamicState{
		CPUUsage:     10,
		MemoryUsage:  20,
		DiskUsage:    30,
		NetworkBytes: 1000,
		IPAddress:    "10.0.0.5",
		LastUpdate:   arrival.Add(-time.Minute),
	}

	merged := mergeDynamic(existing, protocol.DynamicReport{CPUUsage: f64(15)}, arrival)

	if merged.CPUUsage != 15 {
		t.Errorf("cpu = %v, want 15", merged.CPUUsage)
	}
	if merged.MemoryUsage != 20 {
		t.Errorf("mem = %v, want 20 (omitted field must persist)", merged.MemoryUsage)
	}
	if merged.DiskUsage != 30 || merged.NetworkBytes != 1000 || merged.IPAddress != "10.0.0.5" {
		t.Errorf("omitted fields changed: %+v", merged)
	}
	if !merged.LastUpdate.Equal(arrival) {
		t.Errorf("last_update = %v, want arrival time %v", merged.LastUpdate, arrival)
	}
}

func TestMergeDynamicFullReport(t *testing.T) {
	arrival := time.Now()
	merged := mergeDynamic(DynamicState{}, protocol.DynamicReport{
		CPUUsage:     f64(55),
		MemoryUsage:  f64(66),
		DiskUsage:    f64(77),
		NetworkBytes: u64(4096),
		IPAddress:    str("192.168.1.9"),
	}, arrival)

	want := DynamicState{
		CPUUsage:     55,
		MemoryUsage:  66,
		DiskUsage:    77,
		NetworkBytes: 4096,
		IPAddress:    "192.168.1.9",
		LastUpdate:   arrival,
	}
	if merged != want {
		t.Errorf("merged = %+v, want %+v", merged, want)
	}
}

func TestMergeDynamicIgnoresWireTimestamp(t *testing.T) {
	arrival := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	wire := arrival.Add(-48 * time.Hour)

	merged := mergeDynamic(DynamicState{}, protocol.DynamicReport{
		CPUUsage:  f64(5),
		Timestamp: &wire,
	}, arrival)

	if !merged.LastUpdate.Equal(arrival) {
		t.Errorf("last_update = %v, want arrival %v (wire timestamp is informational only)", merged.LastUpdate, arrival)
	}
}
