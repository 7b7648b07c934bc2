// Package tool implements the built-in tool surface every agent exposes
// to the LLM (spec §4.5): context get/set, quick replies, rich cards,
// parameter-description decoration, and delegate validation for the
// domain tool class an agent binds to.
package tool

import (
	"encoding/json"
	"fmt"

	"github.com/mdesalvo/Morgana-sub001/pkg/contextvars"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/prompt"
)

// Reserved context-variable keys for ephemeral UI artifacts (§4.4, §4.5).
const (
	KeyQuickReplies = "quick_replies"
	KeyRichCard     = "rich_card"
)

const (
	maxRichCardDepth      = 3
	maxRichCardComponents = 50
)

// Names of the four built-in tools (§4.5).
const (
	ToolGetContextVariable = "GetContextVariable"
	ToolSetContextVariable = "SetContextVariable"
	ToolSetQuickReplies    = "SetQuickReplies"
	ToolSetRichCard        = "SetRichCard"
)

// BuiltinDefinitions returns the framework tool definitions merged into
// every agent's tool list (§4.4 construction step a).
func BuiltinDefinitions() []model.ToolDefinition {
	return []model.ToolDefinition{
		{
			Name:        ToolGetContextVariable,
			Description: "Retrieve a previously stored context variable by name.",
			Parameters: []model.ToolParameter{
				{Name: "name", Description: "The context variable name.", Required: true, Scope: model.ScopeContext},
			},
		},
		{
			Name:        ToolSetContextVariable,
			Description: "Store a value under a context variable name.",
			Parameters: []model.ToolParameter{
				{Name: "name", Description: "The context variable name.", Required: true, Scope: model.ScopeContext},
				{Name: "value", Description: "The value to store.", Required: true, Scope: model.ScopeRequest},
			},
		},
		{
			Name:        ToolSetQuickReplies,
			Description: "Offer the user a set of quick-reply choices for this turn only.",
			Parameters: []model.ToolParameter{
				{Name: "quick_replies_json", Description: "JSON array of {id,label,value,termination?}.", Required: true, Scope: model.ScopeRequest},
			},
		},
		{
			Name:        ToolSetRichCard,
			Description: "Attach a rich card (title/subtitle/components) to this turn's response.",
			Parameters: []model.ToolParameter{
				{Name: "rich_card_json", Description: "JSON object: {title, subtitle?, components:[...]}.", Required: true, Scope: model.ScopeRequest},
			},
		},
	}
}

// DecorateDescription appends the scope-specific guidance text from the
// prompt store's additional_properties bag to a parameter's description
// (§4.5 "decorated at registration").
func DecorateDescription(param model.ToolParameter, policies prompt.Bag) string {
	switch param.Scope {
	case model.ScopeContext:
		return param.Description + " " + policies.String(prompt.KeyToolParameterContextGuidance)
	case model.ScopeRequest:
		return param.Description + " " + policies.String(prompt.KeyToolParameterRequestGuidance)
	default:
		return param.Description
	}
}

// Runtime dispatches built-in tool invocations against one agent's
// context-variable store.
type Runtime struct {
	vars *contextvars.Store
}

// NewRuntime binds a Runtime to the given session's context-variable store.
func NewRuntime(vars *contextvars.Store) *Runtime {
	return &Runtime{vars: vars}
}

// GetContextVariable implements the GetContextVariable tool (§4.5): on
// hit, returns the stored value; on miss, a deterministic string telling
// the model to ask the user or call SetContextVariable.
func (r *Runtime) GetContextVariable(name string) string {
	v, ok := r.vars.Get(name)
	if !ok {
		return fmt.Sprintf("Context variable %q is not set. Ask the user for it, or call SetContextVariable once you have it.", name)
	}
	return fmt.Sprintf("%v", v)
}

// SetContextVariable implements the SetContextVariable tool (§4.5).
// Writing a shared variable triggers exactly one broadcast via the
// store's wired callback (§4.4, I4).
func (r *Runtime) SetContextVariable(name, value string) string {
	r.vars.Set(name, value)
	return fmt.Sprintf("Stored %q.", name)
}

// SetQuickReplies implements the SetQuickReplies tool (§4.5). On parse
// failure it returns a deterministic error string so the model can
// retry; on success the raw JSON is stored under the reserved key.
func (r *Runtime) SetQuickReplies(rawJSON string) string {
	var replies []model.QuickReply
	if err := json.Unmarshal([]byte(rawJSON), &replies); err != nil {
		return fmt.Sprintf("Error: quick replies must be a JSON array of {id,label,value}: %v", err)
	}
	r.vars.Set(KeyQuickReplies, rawJSON)
	return "Quick replies set."
}

// SetRichCard implements the SetRichCard tool (§4.5), enforcing the
// nesting-depth and component-count limits (I6). The card is not stored
// if either rule is violated.
func (r *Runtime) SetRichCard(rawJSON string) string {
	var card model.RichCard
	if err := json.Unmarshal([]byte(rawJSON), &card); err != nil {
		return fmt.Sprintf("Error: rich card must be a JSON object with title/subtitle/components: %v", err)
	}

	if depth := cardDepth(card.Components, 1); depth > maxRichCardDepth {
		return fmt.Sprintf("Error: Rich card exceeds maximum nesting depth of %d (got %d).", maxRichCardDepth, depth)
	}
	if count := cardComponentCount(card.Components); count > maxRichCardComponents {
		return fmt.Sprintf("Error: Rich card exceeds maximum component count of %d (got %d).", maxRichCardComponents, count)
	}

	r.vars.Set(KeyRichCard, rawJSON)
	return "Rich card set."
}

// cardDepth returns the maximum nesting depth of a component tree,
// counted only through "section" components (§4.5 rule 1).
func cardDepth(components []model.RichCardComponent, depth int) int {
	max := depth
	for _, c := range components {
		if c.Kind == "section" && len(c.Section) > 0 {
			if d := cardDepth(c.Section, depth+1); d > max {
				max = d
			}
		}
	}
	return max
}

// cardComponentCount returns the total number of components in the
// tree, recursively (§4.5 rule 2).
func cardComponentCount(components []model.RichCardComponent) int {
	count := len(components)
	for _, c := range components {
		if c.Kind == "section" {
			count += cardComponentCount(c.Section)
		}
	}
	return count
}

// ExtractQuickReplies parses the reserved quick_replies context key, if
// present, returning nil if absent or unparseable.
func ExtractQuickReplies(vars *contextvars.Store) []model.QuickReply {
	raw, ok := vars.Get(KeyQuickReplies)
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	var replies []model.QuickReply
	if err := json.Unmarshal([]byte(s), &replies); err != nil {
		return nil
	}
	return replies
}

// ExtractRichCard parses the reserved rich_card context key, if present.
func ExtractRichCard(vars *contextvars.Store) *model.RichCard {
	raw, ok := vars.Get(KeyRichCard)
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	var card model.RichCard
	if err := json.Unmarshal([]byte(s), &card); err != nil {
		return nil
	}
	return &card
}
