package fleet

import "time"

// Status classifies agent liveness from heartbeat recency.
type Status string

// Liveness states.
const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Color classifies agent load from CPU usage.
type Color string

// Load colors.
const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// Staleness windows.
const (
	// OnlineWindow is how recent the last update must be for an agent
	// to count as online.
	OnlineWindow = 5 * time.Minute

	// IdleWindow is the outer bound for idle; beyond it the agent is
	// offline.
	IdleWindow = time.Hour
)

// DeriveStatus maps heartbeat recency to a liveness state. A zero
// lastUpdate means the agent never reported and is offline.
func DeriveStatus(now, lastUpdate time.Time) Status {
	if lastUpdate.IsZero() {
		return StatusOffline
	}
	age := now.Sub(lastUpdate)
	switch {
	case age <= OnlineWindow:
		return StatusOnline
	case age <= IdleWindow:
		return StatusIdle
	default:
		return StatusOffline
	}
}

// DeriveColor maps CPU usage to a load color. Usage is clamped to
// [0, 100] first; the boundary values 50 and 80 belong to the higher
// bucket.
func DeriveColor(cpuUsage float64) Color {
	if cpuUsage < 0 {
		cpuUsage = 0
	}
	if cpuUsage > 100 {
		cpuUsage = 100
	}
	switch {
	case cpuUsage < 50:
		return ColorGreen
	case cpuUsage < 80:
		return ColorYellow
	default:
		return ColorRed
	}
}
