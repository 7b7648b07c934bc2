// Package history implements the append-only message history and the
// optional lazy reducer view used to shape what gets sent to the LLM
// (spec §4.8). The reducer never mutates the underlying history: the
// full history is always what gets persisted (§3, §4.7).
package history

import "github.com/mdesalvo/Morgana-sub001/pkg/llmclient"

// Reducer transforms a history into the view sent to the LLM. Reducers
// must be pure, idempotent (Reduce(Reduce(h)) == Reduce(h)), and
// monotone (never increase the message count) — R2.
type Reducer func(messages []llmclient.Message) []llmclient.Message

// History is the ordered, append-only sequence of chat messages for one
// AgentSession (§3).
type History struct {
	messages []llmclient.Message
	reducer  Reducer // optional; nil means "send the full history"
}

// New creates an empty History, optionally with a reducer.
func New(reducer Reducer) *History {
	return &History{reducer: reducer}
}

// Append adds a message to the end of the history. Messages are never
// reordered or removed by Append (§3).
func (h *History) Append(msg llmclient.Message) {
	h.messages = append(h.messages, msg)
}

// All returns the full, unreduced history — what gets persisted (§4.7).
func (h *History) All() []llmclient.Message {
	out := make([]llmclient.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// View returns the slice of history that should be sent to the LLM for
// the next invocation: the reducer's output if one is configured,
// otherwise the full history (§4.8). The reducer is applied fresh on
// every call ("lazy", not on write) per this spec's Open Question
// resolution.
func (h *History) View() []llmclient.Message {
	if h.reducer == nil {
		return h.All()
	}
	return h.reducer(h.All())
}

// SetReducer installs or replaces the reducer used by View.
func (h *History) SetReducer(r Reducer) {
	h.reducer = r
}

// Len returns the number of messages in the full history.
func (h *History) Len() int {
	return len(h.messages)
}

// LoadSnapshot replaces the history's contents, e.g. when restoring from
// a persisted Payload.
func (h *History) LoadSnapshot(messages []llmclient.Message) {
	h.messages = append([]llmclient.Message(nil), messages...)
}

// WindowReducer returns a Reducer that keeps only the last n messages.
// A leading system message counts toward n and is always kept, so
// instructions are never dropped. It is idempotent and monotone by
// construction.
func WindowReducer(n int) Reducer {
	return func(messages []llmclient.Message) []llmclient.Message {
		if len(messages) <= n {
			out := make([]llmclient.Message, len(messages))
			copy(out, messages)
			return out
		}

		var system []llmclient.Message
		rest := messages
		if len(messages) > 0 && messages[0].Role == llmclient.RoleSystem {
			system = messages[:1]
			rest = messages[1:]
		}

		keep := n - len(system)
		if keep < 0 {
			keep = 0
		}
		if keep > len(rest) {
			keep = len(rest)
		}

		out := make([]llmclient.Message, 0, len(system)+keep)
		out = append(out, system...)
		out = append(out, rest[len(rest)-keep:]...)
		return out
	}
}
