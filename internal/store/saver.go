package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdeck/fleetdeck/internal/fleet"
)

// retryDelay is how long the saver waits before retrying a failed
// checkpoint write.
const retryDelay = 5 * time.Second

// Saver flushes registry checkpoints in the background so persistence
// I/O never blocks the event loop. Kicks coalesce: many mutations in
// quick succession produce one write of the latest state. In-memory
// state stays authoritative; a failed flush is logged and retried
// without touching the registry.
type Saver struct {
	store  CheckpointWriter
	source func() map[string]fleet.Record
	log    zerolog.Logger
	kick   chan struct{}
}

// CheckpointWriter is the part of the store the saver needs.
type CheckpointWriter interface {
	Save(records map[string]fleet.Record) error
}

// NewSaver creates a saver that reads records from source on each
// flush.
func NewSaver(store CheckpointWriter, source func() map[string]fleet.Record, log zerolog.Logger) *Saver {
	return &Saver{
		store:  store,
		source: source,
		log:    log.With().Str("component", "saver").Logger(),
		kick:   make(chan struct{}, 1),
	}
}

// Kick schedules a flush. Never blocks; a pending kick already covers
// this mutation because the saver reads current state at flush time.
func (s *Saver) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run flushes on each kick until the context is cancelled. A final
// flush runs on shutdown.
func (s *Saver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case <-s.kick:
			if !s.flush() {
				select {
				case <-ctx.Done():
					// One last attempt so a write that failed right
					// before shutdown is not lost.
					s.flush()
					return
				case <-time.After(retryDelay):
					s.Kick()
				}
			}
		}
	}
}

func (s *Saver) flush() bool {
	records := s.source()
	if err := s.store.Save(records); err != nil {
		s.log.Error().Err(err).Msg("checkpoint write failed, will retry")
		return false
	}
	s.log.Debug().Int("agents", len(records)).Msg("checkpoint written")
	return true
}
