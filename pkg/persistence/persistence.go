// Package persistence implements the Save/Load contract of spec §4.7.
// Blobs are opaque to the core: encryption, encoding, and the backing
// store are all external concerns. This package only guarantees
// idempotence of Save and last-write-wins semantics for concurrent
// saves of the same identifier.
package persistence

import (
	"sync"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

// Payload is the core's view of what gets persisted per AgentIdentifier
// (§4.7). PendingMerges are deliberately absent — they are drained
// before the next save. Ephemeral UI artifacts have already been
// dropped from ContextVariables by the time Payload is built (§4.4 step 5).
type Payload struct {
	MessageHistory       []HistoryMessage
	ContextVariables     map[string]any
	SharedVariableNames  []string
}

// HistoryMessage is the persisted shape of one chat message.
type HistoryMessage struct {
	Role       string
	Content    string
	ToolName   string
	ToolCallID string
}

// Store is the persistence collaborator (§4.7, §6).
type Store interface {
	Save(id model.AgentIdentifier, payload Payload) error
	Load(id model.AgentIdentifier) (Payload, bool, error)
}

// InMemory is a Store backed by a map, guarded by a mutex so concurrent
// saves of the same identifier are last-write-wins and never torn.
type InMemory struct {
	mu   sync.Mutex
	data map[string]Payload
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string]Payload)}
}

func (s *InMemory) Save(id model.AgentIdentifier, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id.String()] = clone(payload)
	return nil
}

func (s *InMemory) Load(id model.AgentIdentifier) (Payload, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[id.String()]
	if !ok {
		return Payload{}, false, nil
	}
	return clone(p), true, nil
}

func clone(p Payload) Payload {
	out := Payload{
		MessageHistory:      append([]HistoryMessage(nil), p.MessageHistory...),
		ContextVariables:    make(map[string]any, len(p.ContextVariables)),
		SharedVariableNames: append([]string(nil), p.SharedVariableNames...),
	}
	for k, v := range p.ContextVariables {
		out.ContextVariables[k] = v
	}
	return out
}

var _ Store = (*InMemory)(nil)
