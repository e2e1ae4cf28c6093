package server

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/fleetdeck/fleetdeck/internal/envelope"
	"github.com/fleetdeck/fleetdeck/internal/fleet"
	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// Broadcaster fans full-state snapshots out to every subscriber. It is
// called from the registry's commit hook, so publishes arrive in
// registry commit order; per-subscriber buffered channels with
// drop-on-full keep a slow subscriber from ever blocking the registry.
type Broadcaster struct {
	log zerolog.Logger

	mu          sync.Mutex
	subscribers map[*Client]bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		log:         log.With().Str("component", "broadcast").Logger(),
		subscribers: make(map[*Client]bool),
	}
}

// Subscribe adds a connection to the broadcast set.
func (b *Broadcaster) Subscribe(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[c] = true
}

// Unsubscribe removes a connection. Safe to call for connections that
// never subscribed.
func (b *Broadcaster) Unsubscribe(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, c)
}

// Publish sends the snapshot to every subscriber. The envelope is
// encoded once per distinct codec (all agents share the fleet codec,
// dashboards share the plaintext one). A subscriber whose send buffer
// is full misses this snapshot and catches up on the next one.
func (b *Broadcaster) Publish(snap fleet.Snapshot) {
	msg, err := protocol.NewMessage(protocol.TypeSnapshot, snap)
	if err != nil {
		b.log.Error().Err(err).Msg("failed to encode snapshot")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	encoded := make(map[*envelope.Codec][]byte, 2)
	for c := range b.subscribers {
		data, ok := encoded[c.codec]
		if !ok {
			data, err = c.codec.Encode(msg)
			if err != nil {
				b.log.Error().Err(err).Msg("failed to seal snapshot")
				continue
			}
			encoded[c.codec] = data
		}
		if !c.trySend(data) {
			b.log.Debug().Str("client", c.id).Msg("subscriber buffer full, snapshot dropped")
		}
	}
}
