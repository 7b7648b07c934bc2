// Package manager implements the ConversationManager of spec §3
// Lifecycles: the process-wide owner of live conversations, lazily
// creating each conversation's Supervisor subtree on first message and
// gating dispatch behind the rate limiter (§7).
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mdesalvo/Morgana-sub001/pkg/classifier"
	"github.com/mdesalvo/Morgana-sub001/pkg/guard"
	"github.com/mdesalvo/Morgana-sub001/pkg/llmclient"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/persistence"
	"github.com/mdesalvo/Morgana-sub001/pkg/prompt"
	"github.com/mdesalvo/Morgana-sub001/pkg/push"
	"github.com/mdesalvo/Morgana-sub001/pkg/ratelimiter"
	"github.com/mdesalvo/Morgana-sub001/pkg/registry"
	"github.com/mdesalvo/Morgana-sub001/pkg/router"
	"github.com/mdesalvo/Morgana-sub001/pkg/supervisor"
)

// RateLimitedError is returned when a conversation has exceeded its
// configured rate limit (§7); callers type-assert to recover the window
// and retry-after hint.
type RateLimitedError struct {
	Window            ratelimiter.Window
	RetryAfterSeconds int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s window exceeded, retry after %ds", e.Window, e.RetryAfterSeconds)
}

// Deps bundles the process-wide collaborators every conversation's
// Supervisor is built from (§4.1, §4.2, §4.3).
type Deps struct {
	Agents  *registry.AgentRegistry
	Store   persistence.Store
	Limiter ratelimiter.Limiter
	Push    push.Channel

	PromptStore prompt.Store

	GuardPromptID      string
	ClassifierPromptID string
	SupervisorPromptID string

	// LLMForGuard and LLMForClassifier may be the same Client or distinct
	// deployments — the Supervisor never cares which (§6).
	LLMForGuard      llmclient.Client
	LLMForClassifier llmclient.Client

	Logger *slog.Logger
}

// Manager owns every live conversation's Supervisor.
type Manager struct {
	deps Deps

	mu            sync.Mutex
	conversations map[model.ConversationId]*supervisor.Supervisor
}

// New creates an empty Manager.
func New(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:          deps,
		conversations: make(map[model.ConversationId]*supervisor.Supervisor),
	}
}

// SubmitMessage routes msg to its conversation's Supervisor, lazily
// creating the conversation's actor subtree on first contact, and gates
// on the rate limiter before any Supervisor work begins (§7).
func (m *Manager) SubmitMessage(ctx context.Context, msg model.UserMessage) (model.ConversationResponse, error) {
	if m.deps.Limiter != nil {
		result, err := m.deps.Limiter.CheckAndRecord(msg.ConversationID)
		if err != nil {
			return model.ConversationResponse{}, fmt.Errorf("manager: rate limiter error: %w", err)
		}
		if !result.Allowed {
			return model.ConversationResponse{}, &RateLimitedError{Window: result.ViolatedWindow, RetryAfterSeconds: result.RetryAfterSeconds}
		}
	}

	sup := m.supervisorFor(msg.ConversationID)
	return sup.SubmitMessage(ctx, msg)
}

// supervisorFor returns the live Supervisor for id, constructing its
// whole actor subtree — Router, Guard, Classifier — on first use.
func (m *Manager) supervisorFor(id model.ConversationId) *supervisor.Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sup, ok := m.conversations[id]; ok {
		return sup
	}

	rtr := router.New(id, m.deps.Agents, m.deps.Store, m.deps.Logger)
	g := guard.New(m.deps.LLMForGuard, m.deps.PromptStore, m.deps.GuardPromptID, m.deps.Logger)
	c := classifier.New(m.deps.LLMForClassifier, m.deps.PromptStore, m.deps.ClassifierPromptID, m.deps.Logger)

	sup := supervisor.New(id, g, c, rtr, m.deps.Push, m.deps.PromptStore, m.deps.SupervisorPromptID, m.deps.Logger, func() {
		m.teardown(id)
	})
	m.conversations[id] = sup
	return sup
}

func (m *Manager) teardown(id model.ConversationId) {
	m.mu.Lock()
	sup, ok := m.conversations[id]
	delete(m.conversations, id)
	m.mu.Unlock()
	if ok {
		sup.Stop()
	}
}

// EndConversation tears a conversation down explicitly (§3 "explicit ...
// teardown"), as opposed to the idle timeout driving teardown itself.
func (m *Manager) EndConversation(id model.ConversationId) {
	m.teardown(id)
}

// Live reports the currently live conversation ids, for diagnostics.
func (m *Manager) Live() []model.ConversationId {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ConversationId, 0, len(m.conversations))
	for id := range m.conversations {
		out = append(out, id)
	}
	return out
}
