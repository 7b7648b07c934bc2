// Package contextvars implements the per-session context-variable store
// (spec §3 AgentSession, §4.4 shared-context callback, §5 shared-resource
// policy): a simple key→value map mutated only by the owning agent's
// actor, a first-write-wins merge queue for updates that arrive before
// the session exists, and a callback fired exactly once per shared write.
package contextvars

import "github.com/mdesalvo/Morgana-sub001/pkg/model"

// PendingMerge is one queued BroadcastContextUpdate that arrived before
// the owning AgentSession existed (§4.4 "queued merges").
type PendingMerge struct {
	SourceIntent string
	Updates      map[string]any
}

// SharedWriteFunc is invoked exactly once per Set of a shared variable
// (§3 invariant). It is wired at construction and must be re-wired
// explicitly after a session is deserialized, since callbacks are never
// part of the serialized state (§4.4).
type SharedWriteFunc func(name string, value any)

// Store is the mutable context-variable state of one AgentSession.
// Not safe for concurrent use from two goroutines — by design (§5), it
// is mutated only by the single actor goroutine that owns the session.
type Store struct {
	vars          map[string]any
	sharedNames   map[string]struct{} // immutable after construction
	pendingMerges []PendingMerge
	onSharedWrite SharedWriteFunc
}

// New creates a Store whose shared-variable names are fixed at
// construction, derived from the agent's tool definitions (§3).
func New(sharedNames []string) *Store {
	shared := make(map[string]struct{}, len(sharedNames))
	for _, n := range sharedNames {
		shared[n] = struct{}{}
	}
	return &Store{
		vars:        make(map[string]any),
		sharedNames: shared,
	}
}

// Rewire sets (or replaces) the shared-write callback. Called once at
// agent construction and again after every deserialization (§4.4).
func (s *Store) Rewire(fn SharedWriteFunc) {
	s.onSharedWrite = fn
}

// Get returns the stored value for name, if any.
func (s *Store) Get(name string) (any, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// Set stores value under name. If name is a shared variable, the
// configured callback is invoked exactly once with the new value (§3,
// I4) — this is the only path by which a shared write reaches the
// broadcast bus.
func (s *Store) Set(name string, value any) {
	s.vars[name] = value
	if _, shared := s.sharedNames[name]; shared && s.onSharedWrite != nil {
		s.onSharedWrite(name, value)
	}
}

// Delete removes name from the store without triggering a broadcast.
// Used to drop ephemeral UI artifacts at the end of a turn (§4.4 step 5).
func (s *Store) Delete(name string) {
	delete(s.vars, name)
}

// IsShared reports whether name is one of this session's shared
// variable names.
func (s *Store) IsShared(name string) bool {
	_, ok := s.sharedNames[name]
	return ok
}

// SharedNames returns the immutable set of shared variable names, for
// persistence (§4.7 serialized payload).
func (s *Store) SharedNames() []string {
	out := make([]string, 0, len(s.sharedNames))
	for n := range s.sharedNames {
		out = append(out, n)
	}
	return out
}

// Snapshot returns a shallow copy of all current variables, for
// persistence.
func (s *Store) Snapshot() map[string]any {
	out := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// LoadSnapshot replaces the store's contents, e.g. when restoring from
// a persisted Payload.
func (s *Store) LoadSnapshot(vars map[string]any) {
	s.vars = make(map[string]any, len(vars))
	for k, v := range vars {
		s.vars[k] = v
	}
}

// QueueMerge appends an incoming shared-context update for later
// draining (§4.4 "queued merges"). Order of pending merges across
// multiple QueueMerge calls is preserved.
func (s *Store) QueueMerge(update model.BroadcastContextUpdate) {
	s.pendingMerges = append(s.pendingMerges, PendingMerge{
		SourceIntent: update.SourceIntent,
		Updates:      update.Updates,
	})
}

// DrainMerges applies every queued merge using first-write-wins: an
// incoming value is accepted iff the key is absent locally (I3). Local
// writes performed before drain are never overwritten. The queue is
// emptied regardless of outcome.
func (s *Store) DrainMerges() {
	for _, merge := range s.pendingMerges {
		for key, val := range merge.Updates {
			if _, exists := s.vars[key]; !exists {
				s.vars[key] = val
			}
		}
	}
	s.pendingMerges = nil
}

// HasPendingMerges reports whether any merge is queued and not yet
// drained.
func (s *Store) HasPendingMerges() bool {
	return len(s.pendingMerges) > 0
}
