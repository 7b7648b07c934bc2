// Package guard implements the compliance-guard actor of spec §4.2: a
// thin LLM adapter that screens a user message before classification.
package guard

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mdesalvo/Morgana-sub001/pkg/llmclient"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/prompt"
)

// compliantSentinel is the exact prefix the guard's system prompt
// instructs the model to answer with when a message is compliant.
const compliantSentinel = "COMPLIANT"

// Guard screens one user message for policy compliance ahead of
// classification (§4.2).
type Guard struct {
	llm         llmclient.Client
	promptStore prompt.Store
	promptID    string
	logger      *slog.Logger
}

// New creates a Guard bound to the given prompt id, resolved from
// promptStore at check time (policies can change between turns).
func New(llm llmclient.Client, promptStore prompt.Store, promptID string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{llm: llm, promptStore: promptStore, promptID: promptID, logger: logger}
}

// Check runs the guard over msg. A transport/LLM failure fails open
// (§4.1 transition 2: "on guard error, treat the message as compliant
// and proceed to classification") — the caller is expected to log the
// failure itself via the returned error, which is informational only.
func (g *Guard) Check(ctx context.Context, msg model.UserMessage) (model.GuardVerdict, error) {
	p, err := g.promptStore.Resolve(g.promptID)
	if err != nil {
		g.logger.Warn("guard: prompt resolution failed, failing open", "error", err)
		return model.GuardVerdict{Compliant: true}, err
	}

	systemPrompt := p.Instructions
	if policies := p.AdditionalProperties.String(prompt.KeyGlobalPolicies); policies != "" {
		systemPrompt = systemPrompt + "\n\n" + policies
	}

	answer, err := g.llm.Complete(ctx, systemPrompt, msg.Text, msg.ConversationID)
	if err != nil {
		g.logger.Warn("guard: LLM call failed, failing open", "conversation_id", msg.ConversationID, "error", err)
		return model.GuardVerdict{Compliant: true}, err
	}

	answer = llmclient.CleanJSON(answer)
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(answer)), compliantSentinel) {
		return model.GuardVerdict{Compliant: true}, nil
	}

	return model.GuardVerdict{Compliant: false, Violation: strings.TrimSpace(answer)}, nil
}
