// Package router implements the Router and broadcast bus of spec §4.3:
// dispatch of a classified turn to the target agent, lazy agent
// construction, cross-agent shared-context broadcast, and persistence
// reconciliation on resume.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/persistence"
	"github.com/mdesalvo/Morgana-sub001/pkg/registry"
)

// DispatchTimeout bounds one agent turn (§4.3).
const DispatchTimeout = 60 * time.Second

// Router owns the live agents for one conversation and dispatches turns
// to them, fanning out shared-context updates between them.
type Router struct {
	conversationID model.ConversationId
	agents         *registry.AgentRegistry
	store          persistence.Store
	logger         *slog.Logger

	mu   sync.Mutex
	live map[string]registry.Agent
}

// New creates a Router for one conversation, bound to the process-wide
// agent registry and persistence store.
func New(conversationID model.ConversationId, agents *registry.AgentRegistry, store persistence.Store, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		conversationID: conversationID,
		agents:         agents,
		store:          store,
		logger:         logger,
		live:           make(map[string]registry.Agent),
	}
}

// Dispatch implements §4.3's dispatch contract: a nil classification, an
// "other" classification, or any intent with no registered handler all
// synthesize the same deterministic terminal response (errorText)
// instead of reaching an agent — the Router is the sole authority on
// whether an intent is actually bound.
func (r *Router) Dispatch(ctx context.Context, classification *model.Classification, text string, turnTrace trace.SpanContext, errorText string) (model.AgentResponse, error) {
	return r.dispatchTo(ctx, classification, text, turnTrace, errorText, nil)
}

// DispatchStreaming is Dispatch's streaming variant, forwarding chunks
// as they arrive (used by the Supervisor's AwaitingAgent state). It
// follows the same dispatch contract as Dispatch, including the
// errorText fallback for a classification with no bound handler.
func (r *Router) DispatchStreaming(ctx context.Context, classification *model.Classification, text string, turnTrace trace.SpanContext, errorText string, onChunk func(string)) (model.AgentResponse, error) {
	return r.dispatchTo(ctx, classification, text, turnTrace, errorText, onChunk)
}

func (r *Router) dispatchTo(ctx context.Context, classification *model.Classification, text string, turnTrace trace.SpanContext, errorText string, onChunk func(string)) (model.AgentResponse, error) {
	if classification == nil || classification.IsOther() {
		return model.AgentResponse{ResponseText: errorText, IsCompleted: true}, nil
	}

	agent, err := r.agentFor(classification.Intent)
	if err != nil {
		r.logger.Warn("router: no handler for classified intent, returning fallback", "conversation_id", r.conversationID, "intent", classification.Intent, "error", err)
		return model.AgentResponse{ResponseText: errorText, IsCompleted: true}, nil
	}

	dctx, cancel := context.WithTimeout(ctx, DispatchTimeout)
	defer cancel()

	return agent.ExecuteTurn(dctx, registry.TurnRequest{Text: text, Classification: classification, TurnTrace: turnTrace}, onChunk)
}

// agentFor returns the live agent for intent, constructing it lazily on
// first use (§3 Lifecycles) and restoring it from persistence if a
// session for it already exists (§4.7).
func (r *Router) agentFor(intent string) (registry.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.live[intent]; ok {
		return a, nil
	}

	desc, ok := r.agents.Get(intent)
	if !ok {
		return nil, fmt.Errorf("router: no agent handler registered for intent %q", intent)
	}

	agent := desc.New(r.conversationID)
	r.live[intent] = agent
	r.logger.Debug("router: agent constructed", "intent", intent, "conversation_id", r.conversationID)
	return agent, nil
}

// RestoreAgent eagerly constructs and registers the live agent for
// intent without dispatching a turn to it, so that broadcasts reach an
// agent with a persisted session even before its next turn (§4.7 last
// paragraph). The Supervisor does not call it; the agents it routes to
// are constructed on their first dispatch.
func (r *Router) RestoreAgent(intent string) error {
	_, err := r.agentFor(intent)
	return err
}

// Broadcast fans a shared-context update out to every other live agent
// (the source agent already has the authoritative value — I4: exactly
// once, source excluded). Delivery to siblings is concurrent, and
// Broadcast returns once every sibling's ReceiveContextUpdate has
// returned; ReceiveContextUpdate reports no error, so a broadcast never
// fails the source's own turn.
func (r *Router) Broadcast(ctx context.Context, update model.BroadcastContextUpdate) {
	r.mu.Lock()
	targets := make([]registry.Agent, 0, len(r.live))
	for intent, agent := range r.live {
		if intent == update.SourceIntent {
			continue
		}
		targets = append(targets, agent)
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	g, _ := errgroup.WithContext(ctx)
	for _, agent := range targets {
		agent := agent
		g.Go(func() error {
			agent.ReceiveContextUpdate(update)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("router: broadcast delivery error", "conversation_id", r.conversationID, "error", err)
	}
}

// LiveIntents returns the intents with a constructed agent, for
// diagnostics and tests.
func (r *Router) LiveIntents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.live))
	for intent := range r.live {
		out = append(out, intent)
	}
	return out
}
