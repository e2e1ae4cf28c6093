// Package agent implements the FleetDeck agent.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdeck/fleetdeck/internal/config"
	"github.com/fleetdeck/fleetdeck/internal/envelope"
	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// Agent is the main agent struct that coordinates all components.
type Agent struct {
	cfg    *config.Config
	log    zerolog.Logger
	ws     *WebSocketClient
	ctx    context.Context
	cancel context.CancelFunc

	// State
	mu     sync.RWMutex
	joined bool
}

// New creates a new agent with the given configuration.
func New(cfg *config.Config, log zerolog.Logger) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		cfg:    cfg,
		log:    log.With().Str("component", "agent").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run starts the agent and blocks until shutdown.
func (a *Agent) Run() error {
	a.log.Info().
		Str("hostname", a.cfg.Hostname).
		Str("url", a.cfg.ServerURL).
		Bool("sealed", a.cfg.FleetSecret != "").
		Msg("starting agent")

	codec := envelope.NewPlaintext()
	if a.cfg.FleetSecret != "" {
		var err error
		codec, err = envelope.New(a.cfg.FleetSecret)
		if err != nil {
			return err
		}
	}

	a.ws = NewWebSocketClient(a.cfg, a.log, codec, a)

	var wg sync.WaitGroup

	// Telemetry loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reportLoop()
	}()

	// Message handler loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.messageLoop()
	}()

	// WebSocket connection loop (blocks until shutdown)
	a.ws.Run(a.ctx)

	wg.Wait()

	a.log.Info().Msg("agent stopped")
	return nil
}

// Shutdown initiates graceful shutdown.
func (a *Agent) Shutdown() {
	a.log.Info().Msg("shutting down")
	a.cancel()
	if a.ws != nil {
		if err := a.ws.Close(); err != nil {
			a.log.Debug().Err(err).Msg("error closing websocket")
		}
	}
}

// OnConnected is called when WebSocket connects.
func (a *Agent) OnConnected() {
	a.log.Info().Msg("connected to server")

	payload := protocol.JoinPayload{Hostname: a.cfg.Hostname}
	if err := a.ws.SendMessage(protocol.TypeJoin, payload); err != nil {
		a.log.Error().Err(err).Msg("failed to send join")
		return
	}

	a.log.Debug().Msg("join sent")
}

// OnDisconnected is called when WebSocket disconnects.
func (a *Agent) OnDisconnected() {
	a.mu.Lock()
	a.joined = false
	a.mu.Unlock()
	a.log.Warn().Msg("disconnected from server")
}

// OnMessage is called for each incoming message.
func (a *Agent) OnMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeJoined:
		var payload protocol.JoinedPayload
		if err := msg.ParsePayload(&payload); err != nil {
			a.log.Error().Err(err).Msg("failed to parse joined payload")
			return
		}
		a.mu.Lock()
		a.joined = true
		a.mu.Unlock()
		a.log.Info().Str("hostname", payload.Hostname).Msg("joined fleet")

		// Send the first report immediately, identity included.
		a.sendTelemetry(true)

	case protocol.TypeCommand:
		var payload protocol.CommandPayload
		if err := msg.ParsePayload(&payload); err != nil {
			a.log.Error().Err(err).Msg("failed to parse command payload")
			return
		}
		a.handleCommand(payload.Kind)

	case protocol.TypeError:
		var payload protocol.ErrorPayload
		if err := msg.ParsePayload(&payload); err != nil {
			a.log.Error().Err(err).Msg("failed to parse error payload")
			return
		}
		a.log.Warn().Str("code", payload.Code).Str("message", payload.Message).Msg("server rejected a message")
		if payload.Code == "unregistered" {
			// Record was deleted server-side. Re-join to be tracked
			// again.
			a.OnConnected()
		}

	default:
		a.log.Warn().Str("type", msg.Type).Msg("unknown message type")
	}
}

// IsJoined returns whether the connection is bound to our hostname.
func (a *Agent) IsJoined() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.joined
}

// reportLoop sends periodic telemetry.
func (a *Agent) reportLoop() {
	ticker := time.NewTicker(a.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if a.ws.IsConnected() && a.IsJoined() {
				a.sendTelemetry(false)
			}
		}
	}
}

// sendTelemetry collects and sends one report. Static identity rides
// along only when includeStatic is set (first report after a join, or
// an explicit check command).
func (a *Agent) sendTelemetry(includeStatic bool) {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()

	payload := protocol.TelemetryPayload{
		Hostname: a.cfg.Hostname,
		Dynamic:  a.collectDynamic(ctx),
	}
	if includeStatic {
		payload.Static = a.collectStatic(ctx)
	}

	if err := a.ws.SendMessage(protocol.TypeTelemetry, payload); err != nil {
		a.log.Debug().Err(err).Msg("failed to send telemetry")
		return
	}

	a.log.Debug().Bool("static", includeStatic).Msg("telemetry sent")
}

// messageLoop handles incoming messages.
func (a *Agent) messageLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg := <-a.ws.Messages():
			if msg != nil {
				a.OnMessage(msg)
			}
		}
	}
}

// Version is the agent version.
const Version = "1.0.0"
