// Package protocol defines the WebSocket message types shared between
// agents, dashboards, and the FleetDeck server.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given target.
func (m *Message) ParsePayload(target any) error {
	return json.Unmarshal(m.Payload, target)
}

// Message types (agent → server)
const (
	TypeJoin      = "join"
	TypeTelemetry = "telemetry"
)

// Message types (server → agent)
const (
	TypeJoined  = "joined"
	TypeCommand = "command"
)

// Message types (server → dashboard)
const (
	TypeSnapshot = "snapshot"
	TypeError    = "error"
)

// Message types (dashboard → server)
const (
	TypeDelete   = "delete"
	TypeRename   = "rename"
	TypeDispatch = "dispatch"
)

// Command kinds accepted by agents.
const (
	CommandCheck   = "check"
	CommandRestart = "restart"
)

// MaxHostnameLen is the longest hostname the registry accepts.
const MaxHostnameLen = 50

var validate = validator.New()

// JoinPayload is sent by an agent to bind its connection to a hostname.
type JoinPayload struct {
	Hostname string `json:"hostname" validate:"required,max=50"`
}

// Validate reports whether the payload satisfies its field constraints.
func (p *JoinPayload) Validate() error {
	return validate.Struct(p)
}

// JoinedPayload confirms a join to the agent.
type JoinedPayload struct {
	Hostname string `json:"hostname"`
}

// StaticInfo is the machine-identity snapshot an agent sends once per
// connection. It is replaced wholesale on every resend.
type StaticInfo struct {
	OS          string `json:"os"`
	OSVersion   string `json:"os_version"`
	CPUModel    string `json:"cpu_model"`
	CPUCount    int    `json:"cpu_count"`
	MemoryTotal uint64 `json:"memory_total"`
	DiskTotal   uint64 `json:"disk_total"`
	RemoteID    string `json:"remote_id,omitempty"`
}

// DynamicReport carries mutable telemetry. Every field is optional:
// nil means "not reported this time", and the server keeps the prior
// value. The Timestamp is informational only; the server stamps
// arrival time itself.
type DynamicReport struct {
	CPUUsage     *float64   `json:"cpu_usage,omitempty"`
	MemoryUsage  *float64   `json:"memory_usage,omitempty"`
	DiskUsage    *float64   `json:"disk_usage,omitempty"`
	NetworkBytes *uint64    `json:"network_bytes,omitempty"`
	IPAddress    *string    `json:"ip_address,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

// TelemetryPayload is a periodic or on-demand report from an agent.
type TelemetryPayload struct {
	Hostname string        `json:"hostname" validate:"required,max=50"`
	Static   *StaticInfo   `json:"static,omitempty"`
	Dynamic  DynamicReport `json:"dynamic"`
}

// Validate reports whether the payload satisfies its field constraints.
func (p *TelemetryPayload) Validate() error {
	return validate.Struct(p)
}

// CommandPayload is an addressed instruction pushed to one agent.
type CommandPayload struct {
	Hostname string `json:"hostname"`
	Kind     string `json:"kind"`
}

// DeletePayload asks the server to remove an agent record.
type DeletePayload struct {
	Hostname string `json:"hostname" validate:"required,max=50"`
}

// Validate reports whether the payload satisfies its field constraints.
func (p *DeletePayload) Validate() error {
	return validate.Struct(p)
}

// RenamePayload asks the server to move an agent record to a new
// hostname.
type RenamePayload struct {
	Hostname    string `json:"hostname" validate:"required,max=50"`
	NewHostname string `json:"new_hostname" validate:"required,max=50"`
}

// Validate reports whether the payload satisfies its field constraints.
func (p *RenamePayload) Validate() error {
	return validate.Struct(p)
}

// DispatchPayload asks the server to route a command to one agent.
type DispatchPayload struct {
	Hostname string `json:"hostname" validate:"required,max=50"`
	Kind     string `json:"kind" validate:"required,oneof=check restart"`
}

// Validate reports whether the payload satisfies its field constraints.
func (p *DispatchPayload) Validate() error {
	return validate.Struct(p)
}

// ErrorPayload is sent back to the connection whose message failed.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
