// Package session assembles the per-(agent, conversation) mutable state
// described in spec §3 (AgentSession) out of the history and
// context-variable building blocks, and converts it to and from the
// persistence Payload of §4.7.
package session

import (
	"github.com/mdesalvo/Morgana-sub001/pkg/contextvars"
	"github.com/mdesalvo/Morgana-sub001/pkg/history"
	"github.com/mdesalvo/Morgana-sub001/pkg/llmclient"
	"github.com/mdesalvo/Morgana-sub001/pkg/persistence"
)

// AgentSession is the mutable state owned by one agent actor for one
// conversation (§3).
type AgentSession struct {
	History *history.History
	Vars    *contextvars.Store
}

// New creates a fresh AgentSession for an agent whose tool definitions
// derive the given shared variable names (§3).
func New(sharedNames []string, reducer history.Reducer) *AgentSession {
	return &AgentSession{
		History: history.New(reducer),
		Vars:    contextvars.New(sharedNames),
	}
}

// ToPayload converts the session to its persisted shape (§4.7). Ephemeral
// UI artifacts must already have been dropped from Vars by the caller
// (agent runtime step 5) before this is called.
func (s *AgentSession) ToPayload() persistence.Payload {
	msgs := s.History.All()
	hist := make([]persistence.HistoryMessage, len(msgs))
	for i, m := range msgs {
		hist[i] = persistence.HistoryMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolName:   m.ToolName,
			ToolCallID: m.ToolCallID,
		}
	}

	return persistence.Payload{
		MessageHistory:      hist,
		ContextVariables:    s.Vars.Snapshot(),
		SharedVariableNames: s.Vars.SharedNames(),
	}
}

// FromPayload rebuilds an AgentSession from a persisted Payload. The
// shared-write callback is not restored here — the caller must Rewire
// it, since callbacks are never part of the serialized state (§4.4).
func FromPayload(payload persistence.Payload, reducer history.Reducer) *AgentSession {
	sess := New(payload.SharedVariableNames, reducer)

	msgs := make([]llmclient.Message, len(payload.MessageHistory))
	for i, m := range payload.MessageHistory {
		msgs[i] = llmclient.Message{
			Role:       llmclient.Role(m.Role),
			Content:    m.Content,
			ToolName:   m.ToolName,
			ToolCallID: m.ToolCallID,
		}
	}
	sess.History.LoadSnapshot(msgs)
	sess.Vars.LoadSnapshot(payload.ContextVariables)

	return sess
}
