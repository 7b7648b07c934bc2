// Package model defines the data model of the conversation-orchestration
// core (spec §3). Values here are immutable unless documented otherwise;
// mutable state lives in the actor packages that consume them.
package model

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ConversationId is the opaque primary key for a conversation's actor
// subtree and for every persisted agent session under it.
type ConversationId string

// OtherIntent is the reserved classifier fallback meaning "no handler".
const OtherIntent = "other"

// UserMessage is the entry value for one turn.
type UserMessage struct {
	ConversationID ConversationId
	Text           string
	Timestamp      time.Time
	// TurnTrace is an opaque telemetry context propagated unchanged to
	// every child operation of the turn. It is never inspected for
	// content by the core, only carried.
	TurnTrace trace.SpanContext
}

// GuardVerdict is the output of content moderation (§4.2).
type GuardVerdict struct {
	Compliant bool
	Violation string // non-empty iff !Compliant
}

// Classification is the output of intent classification (§4.2).
type Classification struct {
	Intent     string
	Confidence float64
	Metadata   map[string]string
}

// IsOther reports whether this classification is the reserved fallback.
func (c Classification) IsOther() bool {
	return strings.EqualFold(c.Intent, OtherIntent)
}

// IntentDefinition describes one intent offered by the domain
// configuration (§3, §4.6). Name is normalized to lowercase on
// construction via NewIntentDefinition.
type IntentDefinition struct {
	Name         string
	Description  string
	Label        string
	DefaultValue string
}

// NewIntentDefinition lowercase-normalizes name before returning the
// definition, matching the invariant in §3.
func NewIntentDefinition(name, description, label, defaultValue string) IntentDefinition {
	return IntentDefinition{
		Name:         strings.ToLower(strings.TrimSpace(name)),
		Description:  description,
		Label:        label,
		DefaultValue: defaultValue,
	}
}

// ParameterScope controls how a tool parameter's value is expected to be
// sourced by the model (§4.5).
type ParameterScope string

const (
	ScopeContext ParameterScope = "context"
	ScopeRequest ParameterScope = "request"
)

// ToolParameter describes one parameter of a ToolDefinition.
// Invariant: Shared implies Scope == ScopeContext.
type ToolParameter struct {
	Name        string
	Description string
	Required    bool
	Scope       ParameterScope
	Shared      bool
}

// Validate enforces the shared⇒context invariant.
func (p ToolParameter) Validate() error {
	if p.Shared && p.Scope != ScopeContext {
		return &ValidationError{Msg: "parameter " + p.Name + ": shared=true requires scope=context"}
	}
	return nil
}

// ToolDefinition is the declared shape of one tool exposed to the LLM.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// SharedParameters returns the parameters with scope=context and
// shared=true — the basis for an agent's shared_variable_names (§3).
func (t ToolDefinition) SharedParameters() []ToolParameter {
	var out []ToolParameter
	for _, p := range t.Parameters {
		if p.Scope == ScopeContext && p.Shared {
			out = append(out, p)
		}
	}
	return out
}

// AgentIdentifier uniquely identifies one (agent, conversation) pair —
// at most one live session and one persisted blob exist per identifier.
type AgentIdentifier struct {
	Intent         string
	ConversationID ConversationId
}

// String renders the identifier in its canonical "{intent}-{conversation_id}" form.
func (id AgentIdentifier) String() string {
	return id.Intent + "-" + string(id.ConversationID)
}

// QuickReply is one element of the quick-reply artifact (§4.5).
// Termination is carried opaquely; its semantics are not specified.
type QuickReply struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Value       string `json:"value"`
	Termination any    `json:"termination,omitempty"`
}

// RichCardComponent is a tagged-union element of a RichCard (§4.5).
// Exactly one discriminator-specific field is populated for a given Kind.
type RichCardComponent struct {
	Kind string `json:"kind"` // text_block | key_value | divider | list | section | grid | badge

	Text string `json:"text,omitempty"`

	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	Items []string `json:"items,omitempty"`

	// Section nests further components; this is the only path that
	// counts toward the nesting-depth limit (§4.5 rule 1).
	Section []RichCardComponent `json:"components,omitempty"`

	Columns []string `json:"columns,omitempty"`

	Label string `json:"label,omitempty"`
}

// RichCard is the tagged-union rich-card artifact (§4.5).
type RichCard struct {
	Title      string              `json:"title"`
	Subtitle   string              `json:"subtitle,omitempty"`
	Components []RichCardComponent `json:"components"`
}

// AgentResponse is what an agent returns for one turn (§3, §4.4).
type AgentResponse struct {
	ResponseText string
	IsCompleted  bool
	QuickReplies []QuickReply
	RichCard     *RichCard
}

// ConversationResponse is the outward shape pushed to clients (§3).
type ConversationResponse struct {
	Response         string
	Classification   string
	Metadata         map[string]string
	AgentName        string
	AgentCompleted   bool
	QuickReplies     []QuickReply
	RichCard         *RichCard
	OriginalTimestamp time.Time
}

// BroadcastContextUpdate is fanned out by the Router to every sibling
// agent except the source (§4.3).
type BroadcastContextUpdate struct {
	SourceIntent string
	Updates      map[string]any
}

// ValidationError reports a data-model invariant violation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }
