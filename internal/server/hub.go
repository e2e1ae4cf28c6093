package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fleetdeck/fleetdeck/internal/envelope"
	"github.com/fleetdeck/fleetdeck/internal/fleet"
	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

type clientKind string

const (
	kindAgent     clientKind = "agent"
	kindDashboard clientKind = "dashboard"
)

// connState tracks where a connection is in its lifecycle. A connection
// starts unbound, becomes bound once a join names a hostname, and is
// closed when the transport goes away. Closed is terminal.
type connState int

const (
	stateUnbound connState = iota
	stateBound
	stateClosed
)

// Client is one websocket connection, either an agent or a dashboard.
// state and hostname are owned by the hub's run loop.
type Client struct {
	id    string
	kind  clientKind
	conn  *websocket.Conn
	codec *envelope.Codec
	hub   *Hub

	state    connState
	hostname string

	sendMu sync.Mutex
	closed bool
	send   chan []byte
}

// trySend enqueues without blocking. Reports false when the connection
// is gone or the buffer is full and the frame was dropped.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) messageType() int {
	if c.codec.Sealed() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

type inboundFrame struct {
	client *Client
	data   []byte
}

// Hub owns every live connection and the hostname bindings. All state
// transitions happen on the run loop goroutine; the agents map is
// additionally guarded by mu so the command router can resolve a
// hostname to a live connection from HTTP handler goroutines.
type Hub struct {
	log         zerolog.Logger
	registry    *fleet.Registry
	broadcaster *Broadcaster

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	mu      sync.RWMutex
	clients map[*Client]bool
	agents  map[string]*Client

	// Attached after construction; the router needs the hub to
	// resolve live connections.
	routerMu sync.RWMutex
	cmd      *Router
}

// NewHub creates a new hub.
func NewHub(log zerolog.Logger, registry *fleet.Registry, broadcaster *Broadcaster) *Hub {
	return &Hub{
		log:         log.With().Str("component", "hub").Logger(),
		registry:    registry,
		broadcaster: broadcaster,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		inbound:     make(chan inboundFrame, 64),
		clients:     make(map[*Client]bool),
		agents:      make(map[string]*Client),
	}
}

// NewClient wraps an accepted websocket connection. Agents use the
// fleet codec, dashboards the plaintext one.
func (h *Hub) NewClient(conn *websocket.Conn, kind clientKind, codec *envelope.Codec) *Client {
	return &Client{
		id:    uuid.New().String(),
		kind:  kind,
		conn:  conn,
		codec: codec,
		hub:   h,
		send:  make(chan []byte, sendBufferSize),
	}
}

// Agent returns the live connection currently bound to hostname, or nil.
func (h *Hub) Agent(hostname string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.agents[hostname]
}

// AgentCount returns the number of hostnames with a live connection.
func (h *Hub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// Run processes registrations, disconnects and inbound frames. Frames
// from a single connection are handled in arrival order.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case f := <-h.inbound:
			h.handleFrame(f.client, f.data)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	h.log.Debug().Str("client", c.id).Str("kind", string(c.kind)).Msg("client connected")

	// Dashboards see the fleet right away; agents subscribe on join.
	if c.kind == kindDashboard {
		h.broadcaster.Subscribe(c)
		h.sendSnapshot(c)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	// Unbind only if this connection is still the one bound to its
	// hostname. A reconnect may already have taken the binding over,
	// and the registry record is never touched either way.
	if c.state == stateBound && h.agents[c.hostname] == c {
		delete(h.agents, c.hostname)
	}
	c.state = stateClosed
	h.mu.Unlock()

	h.broadcaster.Unsubscribe(c)
	c.closeSend()

	h.log.Debug().Str("client", c.id).Str("kind", string(c.kind)).Str("hostname", c.hostname).Msg("client disconnected")
}

func (h *Hub) handleFrame(c *Client, data []byte) {
	if c.state == stateClosed {
		return
	}

	msg, err := c.codec.Decode(data)
	if err != nil {
		h.log.Warn().Err(err).Str("client", c.id).Msg("undecodable frame dropped")
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		h.handleJoin(c, msg)
	case protocol.TypeTelemetry:
		h.handleTelemetry(c, msg)
	case protocol.TypeDelete:
		h.handleDelete(c, msg)
	case protocol.TypeRename:
		h.handleRename(c, msg)
	case protocol.TypeDispatch:
		h.handleDispatch(c, msg)
	default:
		h.log.Warn().Str("client", c.id).Str("type", msg.Type).Msg("unknown message type")
	}
}

func (h *Hub) handleJoin(c *Client, msg *protocol.Message) {
	if c.kind != kindAgent {
		h.sendError(c, "protocol", "join is agent-only")
		return
	}

	var payload protocol.JoinPayload
	if err := msg.ParsePayload(&payload); err != nil {
		h.sendError(c, "validation", "malformed join payload")
		return
	}
	if err := payload.Validate(); err != nil {
		h.sendError(c, "validation", "invalid hostname")
		return
	}

	if _, err := h.registry.UpsertJoin(payload.Hostname); err != nil {
		h.sendError(c, "validation", "invalid hostname")
		return
	}

	h.bind(c, payload.Hostname)

	ack, err := protocol.NewMessage(protocol.TypeJoined, protocol.JoinedPayload{Hostname: payload.Hostname})
	if err == nil {
		if data, err := c.codec.Encode(ack); err == nil {
			c.trySend(data)
		}
	}

	h.log.Info().Str("hostname", payload.Hostname).Str("client", c.id).Msg("agent joined")
}

// bind makes c the addressable connection for hostname. Last writer
// wins: a previous connection for the same hostname stays open but is
// no longer reachable for commands, and its eventual disconnect will
// not steal the binding back.
func (h *Hub) bind(c *Client, hostname string) {
	h.mu.Lock()
	if c.state == stateBound && c.hostname != hostname && h.agents[c.hostname] == c {
		delete(h.agents, c.hostname)
	}
	if prev := h.agents[hostname]; prev != nil && prev != c {
		h.log.Info().Str("hostname", hostname).Str("old", prev.id).Str("new", c.id).Msg("agent reconnected, rebinding")
	}
	h.agents[hostname] = c
	c.state = stateBound
	c.hostname = hostname
	h.mu.Unlock()

	h.broadcaster.Subscribe(c)
}

func (h *Hub) handleTelemetry(c *Client, msg *protocol.Message) {
	if c.kind != kindAgent {
		h.sendError(c, "protocol", "telemetry is agent-only")
		return
	}
	if c.state != stateBound {
		h.sendError(c, "protocol", "telemetry before join")
		return
	}

	var payload protocol.TelemetryPayload
	if err := msg.ParsePayload(&payload); err != nil {
		h.sendError(c, "validation", "malformed telemetry payload")
		return
	}

	// The binding established at join is authoritative; a payload
	// naming someone else's hostname does not get to write there.
	if payload.Hostname != "" && payload.Hostname != c.hostname {
		h.log.Warn().Str("client", c.id).Str("bound", c.hostname).Str("claimed", payload.Hostname).Msg("telemetry hostname mismatch")
	}

	_, err := h.registry.UpsertTelemetry(c.hostname, payload.Static, payload.Dynamic)
	if errors.Is(err, fleet.ErrNotFound) {
		// Record was deleted since this agent joined. The agent must
		// re-join to be tracked again.
		h.sendError(c, "unregistered", "hostname not registered, re-join required")
		return
	}
	if err != nil {
		h.sendError(c, "validation", "telemetry rejected")
	}
}

func (h *Hub) handleDelete(c *Client, msg *protocol.Message) {
	if c.kind != kindDashboard {
		h.sendError(c, "protocol", "delete is dashboard-only")
		return
	}

	var payload protocol.DeletePayload
	if err := msg.ParsePayload(&payload); err != nil {
		h.sendError(c, "validation", "malformed delete payload")
		return
	}

	if err := h.registry.Delete(payload.Hostname); err != nil {
		h.sendError(c, "not_found", "unknown hostname")
		return
	}
	h.log.Info().Str("hostname", payload.Hostname).Msg("agent deleted")
}

func (h *Hub) handleRename(c *Client, msg *protocol.Message) {
	if c.kind != kindDashboard {
		h.sendError(c, "protocol", "rename is dashboard-only")
		return
	}

	var payload protocol.RenamePayload
	if err := msg.ParsePayload(&payload); err != nil {
		h.sendError(c, "validation", "malformed rename payload")
		return
	}
	if err := payload.Validate(); err != nil {
		h.sendError(c, "validation", "invalid hostname")
		return
	}

	switch err := h.registry.Rename(payload.Hostname, payload.NewHostname); {
	case errors.Is(err, fleet.ErrNotFound):
		h.sendError(c, "not_found", "unknown hostname")
		return
	case errors.Is(err, fleet.ErrDuplicateHostname):
		h.sendError(c, "conflict", "hostname already registered")
		return
	case errors.Is(err, fleet.ErrInvalidHostname):
		h.sendError(c, "validation", "invalid hostname")
		return
	case err != nil:
		h.sendError(c, "internal", "rename failed")
		return
	}

	// Move the live binding along with the record so the agent's
	// subsequent telemetry lands under the new name.
	h.mu.Lock()
	if agentConn := h.agents[payload.Hostname]; agentConn != nil {
		delete(h.agents, payload.Hostname)
		h.agents[payload.NewHostname] = agentConn
		agentConn.hostname = payload.NewHostname
	}
	h.mu.Unlock()

	h.log.Info().Str("from", payload.Hostname).Str("to", payload.NewHostname).Msg("agent renamed")
}

func (h *Hub) handleDispatch(c *Client, msg *protocol.Message) {
	if c.kind != kindDashboard {
		h.sendError(c, "protocol", "dispatch is dashboard-only")
		return
	}

	var payload protocol.DispatchPayload
	if err := msg.ParsePayload(&payload); err != nil {
		h.sendError(c, "validation", "malformed dispatch payload")
		return
	}
	if err := payload.Validate(); err != nil {
		h.sendError(c, "validation", "unknown command kind")
		return
	}

	if err := h.router().Dispatch(payload.Hostname, payload.Kind); err != nil {
		if errors.Is(err, ErrTargetUnknown) {
			h.sendError(c, "target_unknown", "no such agent")
			return
		}
		h.sendError(c, "internal", "dispatch failed")
	}
}

// SetRouter attaches the command router.
func (h *Hub) SetRouter(r *Router) {
	h.routerMu.Lock()
	h.cmd = r
	h.routerMu.Unlock()
}

func (h *Hub) router() *Router {
	h.routerMu.RLock()
	defer h.routerMu.RUnlock()
	return h.cmd
}

func (h *Hub) sendSnapshot(c *Client) {
	msg, err := protocol.NewMessage(protocol.TypeSnapshot, h.registry.GetAll())
	if err != nil {
		return
	}
	data, err := c.codec.Encode(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (h *Hub) sendError(c *Client, code, message string) {
	h.log.Warn().Str("client", c.id).Str("code", code).Msg(message)
	msg, err := protocol.NewMessage(protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	data, err := c.codec.Encode(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// readPump reads frames from the websocket and feeds them to the hub.
// One goroutine per connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("client", c.id).Msg("read error")
			}
			return
		}
		c.hub.inbound <- inboundFrame{client: c, data: data}
	}
}

// writePump drains the send channel to the websocket and keeps the
// connection alive with pings. One goroutine per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(c.messageType(), data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve registers the client and starts its pumps.
func (h *Hub) Serve(c *Client) {
	h.register <- c
	go c.writePump()
	go c.readPump()
}
