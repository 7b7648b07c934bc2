// Package prompt declares the prompt-store collaborator (spec §6). The
// prompt template store itself — content, versioning, wire format — is
// external; this package specifies the contract and the typed-bag
// decoding helper the core uses to pull well-known keys out of it.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Well-known AdditionalProperties keys (§6).
const (
	KeyTools                         = "Tools"
	KeyGlobalPolicies                = "GlobalPolicies"
	KeyErrorAnswers                  = "ErrorAnswers"
	KeyIntents                       = "Intents"
	KeyFallbackMessage                = "FallbackMessage"
	KeyToolParameterContextGuidance  = "ToolParameterContextGuidance"
	KeyToolParameterRequestGuidance  = "ToolParameterRequestGuidance"
	KeyMissingClassificationError    = "MissingClassificationError"
	KeyUnrecognizedIntentError       = "UnrecognizedIntentError"
	KeyLLMServiceError               = "LLMServiceError"
	KeyGuardAnswer                   = "GuardAnswer"
)

// Prompt is a resolved prompt template (§6).
type Prompt struct {
	Target                string
	Instructions           string
	Personality            string
	AdditionalProperties   Bag
}

// Bag is the typed-bag of prompt-specific ancillary values, accessed by
// key. Values are decoded on demand with mapstructure so callers don't
// need a type assertion chain for every key.
type Bag map[string]any

// String returns bag[key] as a string, or "" if absent/wrong type.
func (b Bag) String(key string) string {
	v, ok := b[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Decode unmarshals bag[key] into out via mapstructure, for structured
// values such as the intent list or the error-answer template set.
func (b Bag) Decode(key string, out any) error {
	v, ok := b[key]
	if !ok {
		return fmt.Errorf("prompt: key %q not present in additional properties", key)
	}
	return mapstructure.Decode(v, out)
}

// Store resolves prompt templates by id (§6).
type Store interface {
	Resolve(promptID string) (Prompt, error)
}

// Render substitutes a single double-parenthesis placeholder, e.g.
// Render(tmpl, "llm_error", err.Error()) replaces "((llm_error))" (§6).
func Render(template, placeholder, value string) string {
	return strings.ReplaceAll(template, "(("+placeholder+"))", value)
}
