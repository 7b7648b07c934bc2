package registry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/tool"
)

// TurnRequest is what the Router hands to a dispatched agent (§4.3).
type TurnRequest struct {
	Text           string
	Classification *model.Classification
	TurnTrace      trace.SpanContext
}

// Agent is the surface the agent registry and the router program
// against. The concrete implementation lives in pkg/agentrt; this
// package only needs the shape, so there is no import back to it.
type Agent interface {
	Intent() string
	ExecuteTurn(ctx context.Context, req TurnRequest, onChunk func(string)) (model.AgentResponse, error)
	ReceiveContextUpdate(update model.BroadcastContextUpdate)
}

// AgentConstructor lazily builds the Agent for one (intent, conversation)
// pair (§3 Lifecycles: "Agents are created lazily the first time their
// intent is routed to").
type AgentConstructor func(conversationID model.ConversationId) Agent

// AgentDescriptor is one entry of the agent registry (§4.6).
type AgentDescriptor struct {
	Intent string
	New    AgentConstructor
}

// AgentRegistry maps intent → agent descriptor, case-insensitively.
type AgentRegistry struct {
	base *Base[AgentDescriptor]
}

// NewAgentRegistry creates an empty agent registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{base: New[AgentDescriptor]()}
}

// Register adds one agent handler. name is normalized as in
// model.NewIntentDefinition.
func (r *AgentRegistry) Register(intent string, ctor AgentConstructor) error {
	return r.base.Register(normalize(intent), AgentDescriptor{Intent: normalize(intent), New: ctor})
}

// Get returns the descriptor for intent, if registered.
func (r *AgentRegistry) Get(intent string) (AgentDescriptor, bool) {
	return r.base.Get(normalize(intent))
}

// Intents returns every registered intent name, sorted.
func (r *AgentRegistry) Intents() []string {
	return r.base.Names()
}

// ValidateAgainst enforces the bidirectional registry validation of
// §4.6: every classifiable intent (all configured intents minus "other")
// must have a handler, and every handler's intent must appear in the
// configured list. Returns a descriptive error on the first mismatch
// found but reports the full symmetric difference (I8).
func (r *AgentRegistry) ValidateAgainst(configured []model.IntentDefinition) error {
	configuredSet := make(map[string]struct{}, len(configured))
	for _, def := range configured {
		if def.Name == model.OtherIntent {
			continue
		}
		configuredSet[def.Name] = struct{}{}
	}

	registered := make(map[string]struct{})
	for _, name := range r.base.Names() {
		registered[name] = struct{}{}
	}

	var missingHandlers, unconfiguredHandlers []string
	for name := range configuredSet {
		if _, ok := registered[name]; !ok {
			missingHandlers = append(missingHandlers, name)
		}
	}
	for name := range registered {
		if _, ok := configuredSet[name]; !ok {
			unconfiguredHandlers = append(unconfiguredHandlers, name)
		}
	}

	if len(missingHandlers) == 0 && len(unconfiguredHandlers) == 0 {
		return nil
	}
	return fmt.Errorf(
		"registry: intent/handler mismatch — configured intents without a handler: %v; handlers for unconfigured intents: %v",
		missingHandlers, unconfiguredHandlers,
	)
}

// ToolRegistry maps intent → the single domain tool delegate that
// provides tools for it (§4.6). At most one delegate per intent.
type ToolRegistry struct {
	base *Base[tool.Delegate]
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{base: New[tool.Delegate]()}
}

// Register adds one domain tool delegate. Registering a second delegate
// for the same intent is a startup error (§4.6 "duplicates are startup errors").
func (r *ToolRegistry) Register(delegate tool.Delegate) error {
	intent := normalize(delegate.Intent())
	if err := r.base.Register(intent, delegate); err != nil {
		return fmt.Errorf("tool registry: duplicate delegate for intent %q: %w", intent, err)
	}
	return nil
}

// Get returns the delegate for intent, if any — intents without a
// native tool are permitted (§4.6).
func (r *ToolRegistry) Get(intent string) (tool.Delegate, bool) {
	return r.base.Get(normalize(intent))
}

// WarnSurplus logs a non-fatal warning for every delegate registered
// for an intent the agent registry does not know about (§4.6 "surplus
// tools ... are a non-fatal warning").
func (r *ToolRegistry) WarnSurplus(agents *AgentRegistry) {
	for _, intent := range r.base.Names() {
		if _, ok := agents.Get(intent); !ok {
			slog.Warn("tool registry: delegate registered for an intent with no agent handler", "intent", intent)
		}
	}
}

func normalize(s string) string {
	return model.NewIntentDefinition(s, "", "", "").Name
}
