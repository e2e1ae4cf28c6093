// Package fleet holds the authoritative in-memory state of the agent
// fleet: the registry keyed by hostname, the telemetry merge rules, and
// the liveness/load derivation applied on every read.
package fleet

import (
	"errors"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// Registry errors.
var (
	// ErrNotFound is returned when an operation references a hostname
	// that was never joined. Telemetry never creates an agent.
	ErrNotFound = errors.New("fleet: agent not found")

	// ErrInvalidHostname is returned for an empty hostname or one
	// longer than protocol.MaxHostnameLen.
	ErrInvalidHostname = errors.New("fleet: invalid hostname")

	// ErrDuplicateHostname is returned when a rename targets a
	// hostname that already has a record.
	ErrDuplicateHostname = errors.New("fleet: hostname already registered")
)

// DynamicState is the merged mutable telemetry for one agent. A zero
// LastUpdate means the agent has never reported and is unboundedly
// stale.
type DynamicState struct {
	CPUUsage     float64   `json:"cpu_usage"`
	MemoryUsage  float64   `json:"memory_usage"`
	DiskUsage    float64   `json:"disk_usage"`
	NetworkBytes uint64    `json:"network_bytes"`
	IPAddress    string    `json:"ip_address"`
	LastUpdate   time.Time `json:"last_update"`
}

// Record is the stored state for one agent. It survives disconnects
// and is removed only by an explicit delete.
type Record struct {
	Hostname string              `json:"hostname"`
	Static   protocol.StaticInfo `json:"static"`
	Dynamic  DynamicState        `json:"dynamic"`
}

// AgentView is a Record with status and color freshly derived. Views
// are what dashboards see; status is never stored because it depends
// on wall-clock time independent of writes.
type AgentView struct {
	Hostname string              `json:"hostname"`
	Static   protocol.StaticInfo `json:"static"`
	Dynamic  DynamicState        `json:"dynamic"`
	Status   Status              `json:"status"`
	Color    Color               `json:"color"`
}

// Snapshot is the full derived view of the fleet, as broadcast to
// dashboards.
type Snapshot map[string]AgentView

// view derives an AgentView from a record at the given instant.
func (r *Record) view(now time.Time) AgentView {
	return AgentView{
		Hostname: r.Hostname,
		Static:   r.Static,
		Dynamic:  r.Dynamic,
		Status:   DeriveStatus(now, r.Dynamic.LastUpdate),
		Color:    DeriveColor(r.Dynamic.CPUUsage),
	}
}

func validHostname(hostname string) bool {
	return hostname != "" && len(hostname) <= protocol.MaxHostnameLen
}
