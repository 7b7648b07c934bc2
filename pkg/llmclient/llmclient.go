// Package llmclient declares the language-model client contract (spec §6).
// The concrete client — model choice, prompt wording, provider SDK — is an
// external collaborator; this package only specifies the interface the
// core programs against.
package llmclient

import (
	"context"
	"iter"
	"strings"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

// Role identifies the author of one chat message (§3 AgentSession).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of an agent's message history.
type Message struct {
	Role    Role
	Content string
	// ToolName and ToolCallID are set for Role == RoleTool replies.
	ToolName   string
	ToolCallID string
}

// ToolInvocation is a single tool call the model requested while running.
type ToolInvocation struct {
	ToolName  string
	CallID    string
	Arguments map[string]any
}

// Chunk is one piece of streamed model output.
type Chunk struct {
	Text string
}

// Client is the external LLM collaborator. The core never inspects the
// tokens it returns — it treats the result as opaque text (§6).
type Client interface {
	// Complete performs a single non-streaming completion for actors
	// that need a one-shot answer (Guard, Classifier, presentation).
	Complete(ctx context.Context, systemPrompt, userPrompt string, conversationID model.ConversationId) (string, error)

	// Run drives a tool-augmented conversation turn for an agent. It
	// returns a stream of output chunks (possibly of length zero) and,
	// once the stream is exhausted, the tool invocations the model made
	// during the turn along with the final aggregated error, if any.
	Run(ctx context.Context, messages []Message, tools []model.ToolDefinition) (iter.Seq[Chunk], <-chan RunResult)
}

// RunResult is delivered on Client.Run's result channel once the stream
// completes.
type RunResult struct {
	ToolInvocations []ToolInvocation
	Err             error
}

// CleanJSON strips common markdown code-fence wrapping from a raw model
// response before JSON unmarshalling, the "tolerant cleanup" required by
// §6 for classifier and presentation JSON payloads.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
