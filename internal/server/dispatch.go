package server

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdeck/fleetdeck/internal/fleet"
	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// ErrTargetUnknown is returned when a command names a hostname the
// registry has never seen.
var ErrTargetUnknown = errors.New("server: unknown command target")

// DispatchRecorder persists a dispatch audit entry.
type DispatchRecorder interface {
	RecordDispatch(hostname, kind string, issuedAt time.Time) error
}

// Router routes dashboard-issued commands to live agent connections.
// Delivery is best effort: a registered target with no live connection
// drops the command silently, and the caller still gets nil.
type Router struct {
	log      zerolog.Logger
	registry *fleet.Registry
	hub      *Hub
	audit    DispatchRecorder
	now      func() time.Time
}

// NewRouter creates a command router. audit may be nil.
func NewRouter(log zerolog.Logger, registry *fleet.Registry, hub *Hub, audit DispatchRecorder) *Router {
	return &Router{
		log:      log.With().Str("component", "dispatch").Logger(),
		registry: registry,
		hub:      hub,
		audit:    audit,
		now:      time.Now,
	}
}

// Dispatch sends a command to the named agent. The target must be
// registered; whether a connection is live only decides delivery.
func (r *Router) Dispatch(hostname, kind string) error {
	if kind != protocol.CommandCheck && kind != protocol.CommandRestart {
		return errors.New("server: unknown command kind")
	}
	if !r.registry.Exists(hostname) {
		return ErrTargetUnknown
	}

	issuedAt := r.now()
	r.log.Info().Str("target", hostname).Str("kind", kind).Time("issued_at", issuedAt).Msg("command dispatched")
	if r.audit != nil {
		if err := r.audit.RecordDispatch(hostname, kind, issuedAt); err != nil {
			r.log.Error().Err(err).Str("target", hostname).Msg("failed to record dispatch")
		}
	}

	agent := r.hub.Agent(hostname)
	if agent == nil {
		r.log.Debug().Str("target", hostname).Msg("no live connection, command dropped")
		return nil
	}

	msg, err := protocol.NewMessage(protocol.TypeCommand, protocol.CommandPayload{Hostname: hostname, Kind: kind})
	if err != nil {
		return err
	}
	data, err := agent.codec.Encode(msg)
	if err != nil {
		return err
	}
	if !agent.trySend(data) {
		r.log.Warn().Str("target", hostname).Msg("agent send buffer full, command dropped")
	}
	return nil
}
