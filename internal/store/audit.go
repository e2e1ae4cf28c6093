package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type auditEntry struct {
	hostname string
	kind     string
	issuedAt time.Time
}

// AuditLog writes dispatch audit rows on its own goroutine so a sqlite
// insert never stalls the dispatch path. Enqueueing never blocks;
// entries are dropped (and logged) when the buffer is full.
type AuditLog struct {
	store *Store
	log   zerolog.Logger
	ch    chan auditEntry
}

// NewAuditLog creates an audit writer backed by the store.
func NewAuditLog(store *Store, log zerolog.Logger) *AuditLog {
	return &AuditLog{
		store: store,
		log:   log.With().Str("component", "audit").Logger(),
		ch:    make(chan auditEntry, 128),
	}
}

// RecordDispatch enqueues one audit row. Never blocks and never fails
// the dispatch; write errors surface in the log only.
func (a *AuditLog) RecordDispatch(hostname, kind string, issuedAt time.Time) error {
	select {
	case a.ch <- auditEntry{hostname: hostname, kind: kind, issuedAt: issuedAt}:
	default:
		a.log.Warn().Str("hostname", hostname).Msg("audit buffer full, entry dropped")
	}
	return nil
}

// Run writes entries until the context is cancelled, then drains
// whatever is still queued.
func (a *AuditLog) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case e := <-a.ch:
			a.write(e)
		}
	}
}

func (a *AuditLog) drain() {
	for {
		select {
		case e := <-a.ch:
			a.write(e)
		default:
			return
		}
	}
}

func (a *AuditLog) write(e auditEntry) {
	if err := a.store.RecordDispatch(e.hostname, e.kind, e.issuedAt); err != nil {
		a.log.Error().Err(err).Str("hostname", e.hostname).Msg("audit write failed")
	}
}
