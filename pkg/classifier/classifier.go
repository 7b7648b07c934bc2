// Package classifier implements the intent classifier actor of spec
// §4.2: a thin LLM adapter that maps a user message to a configured
// intent, or "other" when it cannot.
package classifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mdesalvo/Morgana-sub001/pkg/llmclient"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/prompt"
)

// rawResult is the JSON shape the classification prompt instructs the
// model to answer with.
type rawResult struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata"`
}

// Classifier maps a user message to one of a configured set of intents.
type Classifier struct {
	llm         llmclient.Client
	promptStore prompt.Store
	promptID    string
	logger      *slog.Logger
}

// New creates a Classifier bound to the given prompt id.
func New(llm llmclient.Client, promptStore prompt.Store, promptID string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: llm, promptStore: promptStore, promptID: promptID, logger: logger}
}

// Classify resolves the configured intents from the prompt store and
// asks the LLM to pick one. Any failure — prompt resolution, LLM call,
// or unparseable output — degrades to intent "other" with the error
// surfaced to the caller for logging (§4.1 transition 4: "on classifier
// error, fall back to intent=other").
func (c *Classifier) Classify(ctx context.Context, msg model.UserMessage) (model.Classification, error) {
	p, err := c.promptStore.Resolve(c.promptID)
	if err != nil {
		c.logger.Warn("classifier: prompt resolution failed, falling back to other", "error", err)
		return model.Classification{Intent: model.OtherIntent}, err
	}

	var intents []model.IntentDefinition
	if decErr := p.AdditionalProperties.Decode(prompt.KeyIntents, &intents); decErr != nil {
		c.logger.Warn("classifier: intents decode failed, falling back to other", "error", decErr)
		return model.Classification{Intent: model.OtherIntent}, decErr
	}

	answer, err := c.llm.Complete(ctx, p.Instructions, msg.Text, msg.ConversationID)
	if err != nil {
		c.logger.Warn("classifier: LLM call failed, falling back to other", "conversation_id", msg.ConversationID, "error", err)
		return model.Classification{Intent: model.OtherIntent}, err
	}

	var raw rawResult
	if jsonErr := json.Unmarshal([]byte(llmclient.CleanJSON(answer)), &raw); jsonErr != nil {
		c.logger.Warn("classifier: output unparseable, falling back to other", "conversation_id", msg.ConversationID, "error", jsonErr)
		return model.Classification{Intent: model.OtherIntent}, jsonErr
	}

	intent := strings.ToLower(strings.TrimSpace(raw.Intent))
	if !knownIntent(intent, intents) {
		return model.Classification{Intent: model.OtherIntent, Confidence: raw.Confidence, Metadata: raw.Metadata}, nil
	}

	return model.Classification{Intent: intent, Confidence: raw.Confidence, Metadata: raw.Metadata}, nil
}

func knownIntent(intent string, defs []model.IntentDefinition) bool {
	for _, d := range defs {
		if d.Name == intent {
			return true
		}
	}
	return false
}
