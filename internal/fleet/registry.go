package fleet

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdeck/fleetdeck/internal/protocol"
)

// CommitHook is invoked with the full derived snapshot after every
// mutation commits, while the registry lock is still held. Hooks must
// not block and must not call back into the registry: hand the
// snapshot to a channel or buffer and return. Running under the lock
// is what guarantees subscribers observe snapshots in commit order.
type CommitHook func(Snapshot)

// Registry is the single owner of all mutable fleet state. One mutex
// guards the whole map: operations appear atomic to each other, and a
// reader never observes a half-applied merge. Fleet sizes of hundreds
// to low thousands of agents make finer locking unnecessary.
type Registry struct {
	log zerolog.Logger

	mu       sync.Mutex
	agents   map[string]*Record
	onCommit CommitHook

	now func() time.Time // injectable for tests
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:    log.With().Str("component", "registry").Logger(),
		agents: make(map[string]*Record),
		now:    time.Now,
	}
}

// OnCommit installs the hook called after every mutation. It must be
// set before the registry starts receiving traffic.
func (r *Registry) OnCommit(hook CommitHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCommit = hook
}

// Seed loads records from the persistence store at startup. Existing
// entries with the same hostname are overwritten. Seeding does not
// fire the commit hook.
func (r *Registry) Seed(records map[string]Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for hostname, rec := range records {
		rec := rec
		rec.Hostname = hostname
		r.agents[hostname] = &rec
	}
	r.log.Info().Int("count", len(records)).Msg("registry seeded from store")
}

// GetAll returns every agent with status and color freshly derived.
func (r *Registry) GetAll() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Get returns one agent's derived view.
func (r *Registry) Get(hostname string) (AgentView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.agents[hostname]
	if !ok {
		return AgentView{}, ErrNotFound
	}
	return rec.view(r.now()), nil
}

// Exists reports whether a hostname has a registry entry. The command
// router uses this: a command may target a stale or offline agent, but
// not one the registry has never seen.
func (r *Registry) Exists(hostname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[hostname]
	return ok
}

// UpsertJoin registers a hostname, creating an empty record if absent
// and leaving existing data untouched otherwise. LastUpdate is always
// stamped so a rejoining agent immediately reads as online. Idempotent.
func (r *Registry) UpsertJoin(hostname string) (AgentView, error) {
	if !validHostname(hostname) {
		return AgentView{}, ErrInvalidHostname
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.agents[hostname]
	if !ok {
		rec = &Record{Hostname: hostname}
		r.agents[hostname] = rec
		r.log.Info().Str("hostname", hostname).Msg("agent registered")
	} else {
		r.log.Debug().Str("hostname", hostname).Msg("agent rejoined")
	}
	rec.Dynamic.LastUpdate = now

	r.commitLocked()
	return rec.view(now), nil
}

// UpsertTelemetry merges a telemetry report into an existing record.
// The static snapshot, when present, is replaced wholesale; dynamic
// fields merge per-field with absent fields keeping prior values.
// Returns ErrNotFound if the hostname was never joined: telemetry
// cannot silently create an agent.
func (r *Registry) UpsertTelemetry(hostname string, static *protocol.StaticInfo, dynamic protocol.DynamicReport) (AgentView, error) {
	if !validHostname(hostname) {
		return AgentView{}, ErrInvalidHostname
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[hostname]
	if !ok {
		return AgentView{}, ErrNotFound
	}

	now := r.now()
	if static != nil {
		rec.Static = *static
	}
	rec.Dynamic = mergeDynamic(rec.Dynamic, dynamic, now)

	r.commitLocked()
	return rec.view(now), nil
}

// Rename moves an agent record to a new hostname key. The new name
// must be valid and unused; the record's data is otherwise untouched.
// Renaming a hostname to itself is a no-op.
func (r *Registry) Rename(oldName, newName string) error {
	if !validHostname(newName) {
		return ErrInvalidHostname
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.agents[oldName]
	if !ok {
		return ErrNotFound
	}
	if oldName == newName {
		return nil
	}
	if _, taken := r.agents[newName]; taken {
		return ErrDuplicateHostname
	}

	delete(r.agents, oldName)
	rec.Hostname = newName
	r.agents[newName] = rec
	r.log.Info().Str("from", oldName).Str("to", newName).Msg("agent renamed")

	r.commitLocked()
	return nil
}

// Delete removes an agent record. This is the only path that removes
// an agent; disconnects merely make it stale.
func (r *Registry) Delete(hostname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[hostname]; !ok {
		return ErrNotFound
	}
	delete(r.agents, hostname)
	r.log.Info().Str("hostname", hostname).Msg("agent deleted")

	r.commitLocked()
	return nil
}

// Records returns a copy of the raw stored records, for persistence.
func (r *Registry) Records() map[string]Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Record, len(r.agents))
	for hostname, rec := range r.agents {
		out[hostname] = *rec
	}
	return out
}

func (r *Registry) snapshotLocked() Snapshot {
	now := r.now()
	snap := make(Snapshot, len(r.agents))
	for hostname, rec := range r.agents {
		snap[hostname] = rec.view(now)
	}
	return snap
}

func (r *Registry) commitLocked() {
	if r.onCommit != nil {
		r.onCommit(r.snapshotLocked())
	}
}
