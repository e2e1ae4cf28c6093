package fleet

import (
	"time"

	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// mergeDynamic applies a partial report to existing dynamic state.
// Fields absent from the report keep their prior value; LastUpdate is
// always stamped with the arrival time, never the wire timestamp; the
// registry is the timekeeper.
func mergeDynamic(existing DynamicState, report protocol.DynamicReport, arrival time.Time) DynamicState {
	merged := existing
	if report.CPUUsage != nil {
		merged.CPUUsage = *report.CPUUsage
	}
	if report.MemoryUsage != nil {
		merged.MemoryUsage = *report.MemoryUsage
	}
	if report.DiskUsage != nil {
		merged.DiskUsage = *report.DiskUsage
	}
	if report.NetworkBytes != nil {
		merged.NetworkBytes = *report.NetworkBytes
	}
	if report.IPAddress != nil {
		merged.IPAddress = *report.IPAddress
	}
	merged.LastUpdate = arrival
	return merged
}
