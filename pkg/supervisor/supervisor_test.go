package supervisor

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdesalvo/Morgana-sub001/pkg/classifier"
	"github.com/mdesalvo/Morgana-sub001/pkg/guard"
	"github.com/mdesalvo/Morgana-sub001/pkg/llmclient"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/persistence"
	"github.com/mdesalvo/Morgana-sub001/pkg/prompt"
	"github.com/mdesalvo/Morgana-sub001/pkg/registry"
	"github.com/mdesalvo/Morgana-sub001/pkg/router"
)

type scriptedLLM struct {
	guardAnswer      string
	classifierAnswer string
}

func (s *scriptedLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, conversationID model.ConversationId) (string, error) {
	if systemPrompt == "guard" {
		return s.guardAnswer, nil
	}
	return s.classifierAnswer, nil
}

func (s *scriptedLLM) Run(ctx context.Context, messages []llmclient.Message, tools []model.ToolDefinition) (iter.Seq[llmclient.Chunk], <-chan llmclient.RunResult) {
	panic("not used")
}

type fakePromptStore struct{}

func (fakePromptStore) Resolve(promptID string) (prompt.Prompt, error) {
	switch promptID {
	case "guard":
		return prompt.Prompt{Instructions: "guard"}, nil
	case "classifier":
		return prompt.Prompt{
			Instructions: "classifier",
			AdditionalProperties: prompt.Bag{
				prompt.KeyIntents: []map[string]any{{"name": "billing"}},
			},
		}, nil
	default:
		return prompt.Prompt{
			AdditionalProperties: prompt.Bag{
				prompt.KeyMissingClassificationError: "Sorry, something went wrong understanding that.",
				prompt.KeyUnrecognizedIntentError:    "I can't help with that here.",
				prompt.KeyGuardAnswer:                "I can't help with ((violation)).",
			},
		}, nil
	}
}

type stubAgent struct {
	intent      string
	isCompleted bool
}

func (a *stubAgent) Intent() string { return a.intent }
func (a *stubAgent) ExecuteTurn(ctx context.Context, req registry.TurnRequest, onChunk func(string)) (model.AgentResponse, error) {
	if onChunk != nil {
		onChunk("partial")
	}
	return model.AgentResponse{ResponseText: "handled", IsCompleted: a.isCompleted}, nil
}
func (a *stubAgent) ReceiveContextUpdate(update model.BroadcastContextUpdate) {}

func newTestSupervisor(t *testing.T, llm *scriptedLLM, agentCompleted bool) *Supervisor {
	t.Helper()
	reg := registry.NewAgentRegistry()
	require.NoError(t, reg.Register("billing", func(model.ConversationId) registry.Agent {
		return &stubAgent{intent: "billing", isCompleted: agentCompleted}
	}))
	r := router.New("conv-1", reg, persistence.NewInMemory(), nil)
	g := guard.New(llm, fakePromptStore{}, "guard", nil)
	c := classifier.New(llm, fakePromptStore{}, "classifier", nil)
	return New("conv-1", g, c, r, nil, fakePromptStore{}, "supervisor", nil, func() {})
}

func TestSupervisor_SubmitMessage_HappyPath(t *testing.T) {
	llm := &scriptedLLM{guardAnswer: "COMPLIANT", classifierAnswer: `{"intent":"billing","confidence":0.9}`}
	s := newTestSupervisor(t, llm, true)
	defer s.Stop()

	resp, err := s.SubmitMessage(context.Background(), model.UserMessage{ConversationID: "conv-1", Text: "what's my balance", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "handled", resp.Response)
	assert.Equal(t, "billing", resp.Classification)
	assert.True(t, resp.AgentCompleted)
}

func TestSupervisor_SubmitMessage_GuardViolation_ShortCircuitsToTerminalResponse(t *testing.T) {
	llm := &scriptedLLM{guardAnswer: "VIOLATION: disallowed topic", classifierAnswer: `{"intent":"billing"}`}
	s := newTestSupervisor(t, llm, true)
	defer s.Stop()

	resp, err := s.SubmitMessage(context.Background(), model.UserMessage{ConversationID: "conv-1", Text: "bad request", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "VIOLATION: disallowed topic")
	assert.Equal(t, model.OtherIntent, resp.Classification)
}

func TestSupervisor_SubmitMessage_UnrecognizedIntent_ReturnsTemplatedError(t *testing.T) {
	llm := &scriptedLLM{guardAnswer: "COMPLIANT", classifierAnswer: `{"intent":"weather"}`}
	s := newTestSupervisor(t, llm, true)
	defer s.Stop()

	resp, err := s.SubmitMessage(context.Background(), model.UserMessage{ConversationID: "conv-1", Text: "what's the weather", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "I can't help with that here.", resp.Response)
}

func TestSupervisor_StickyAgent_BypassesClassificationOnNextTurn(t *testing.T) {
	llm := &scriptedLLM{guardAnswer: "COMPLIANT", classifierAnswer: `{"intent":"billing"}`}
	s := newTestSupervisor(t, llm, false) // agent never completes -> stays sticky
	defer s.Stop()

	_, err := s.SubmitMessage(context.Background(), model.UserMessage{ConversationID: "conv-1", Text: "first", Timestamp: time.Now()})
	require.NoError(t, err)

	// Change the classifier's answer so a fresh classification would pick a
	// different intent; the sticky bypass must ignore it entirely.
	llm.classifierAnswer = `{"intent":"other"}`
	resp, err := s.SubmitMessage(context.Background(), model.UserMessage{ConversationID: "conv-1", Text: "second", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "billing", resp.Classification, "a sticky agent must receive the next turn without reclassification")
}

func TestSupervisor_StickyAgent_ClearsOnceAgentCompletes(t *testing.T) {
	llm := &scriptedLLM{guardAnswer: "COMPLIANT", classifierAnswer: `{"intent":"billing"}`}
	s := newTestSupervisor(t, llm, true)
	defer s.Stop()

	_, err := s.SubmitMessage(context.Background(), model.UserMessage{ConversationID: "conv-1", Text: "first", Timestamp: time.Now()})
	require.NoError(t, err)

	llm.classifierAnswer = `{"intent":"other"}`
	resp, err := s.SubmitMessage(context.Background(), model.UserMessage{ConversationID: "conv-1", Text: "second", Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, model.OtherIntent, resp.Classification, "a completed turn must clear the sticky intent")
}

func TestSupervisor_ClassifierError_SynthesizesOtherAndRoutesThroughRouter(t *testing.T) {
	llm := &scriptedLLM{guardAnswer: "COMPLIANT", classifierAnswer: "not json"}
	s := newTestSupervisor(t, llm, true)
	defer s.Stop()

	resp, err := s.SubmitMessage(context.Background(), model.UserMessage{ConversationID: "conv-1", Text: "garble", Timestamp: time.Now()})
	require.NoError(t, err)

	// §4.1 transition 6: a classifier error never short-circuits the
	// Supervisor directly — it synthesizes intent="other" and proceeds to
	// the Router exactly as a successful classification would, letting the
	// Router's missing-handler fallback produce the refusal text.
	assert.Equal(t, "I can't help with that here.", resp.Response)
	assert.Equal(t, model.OtherIntent, resp.Classification)
	assert.True(t, resp.AgentCompleted)
	require.NotNil(t, resp.Metadata)
	assert.Contains(t, resp.Metadata["error"], "classification_failed:")
}
