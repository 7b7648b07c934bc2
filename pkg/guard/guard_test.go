package guard

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdesalvo/Morgana-sub001/pkg/llmclient"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/prompt"
)

type fakeLLM struct {
	answer string
	err    error
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, conversationID model.ConversationId) (string, error) {
	return f.answer, f.err
}

func (f *fakeLLM) Run(ctx context.Context, messages []llmclient.Message, tools []model.ToolDefinition) (iter.Seq[llmclient.Chunk], <-chan llmclient.RunResult) {
	panic("not used by guard")
}

type fakePromptStore struct {
	p   prompt.Prompt
	err error
}

func (f fakePromptStore) Resolve(promptID string) (prompt.Prompt, error) { return f.p, f.err }

func TestGuard_Check_CompliantAnswer(t *testing.T) {
	llm := &fakeLLM{answer: "COMPLIANT"}
	ps := fakePromptStore{p: prompt.Prompt{Instructions: "screen this"}}
	g := New(llm, ps, "guard-v1", nil)

	verdict, err := g.Check(context.Background(), model.UserMessage{Text: "hi"})
	require.NoError(t, err)
	assert.True(t, verdict.Compliant)
}

func TestGuard_Check_NonCompliantAnswer_CarriesViolation(t *testing.T) {
	llm := &fakeLLM{answer: "VIOLATION: contains PII request"}
	ps := fakePromptStore{p: prompt.Prompt{Instructions: "screen this"}}
	g := New(llm, ps, "guard-v1", nil)

	verdict, err := g.Check(context.Background(), model.UserMessage{Text: "hi"})
	require.NoError(t, err)
	assert.False(t, verdict.Compliant)
	assert.Equal(t, "VIOLATION: contains PII request", verdict.Violation)
}

func TestGuard_Check_CompliantCheckIsCaseInsensitiveAndFenceTolerant(t *testing.T) {
	llm := &fakeLLM{answer: "```\ncompliant\n```"}
	ps := fakePromptStore{p: prompt.Prompt{Instructions: "screen this"}}
	g := New(llm, ps, "guard-v1", nil)

	verdict, err := g.Check(context.Background(), model.UserMessage{Text: "hi"})
	require.NoError(t, err)
	assert.True(t, verdict.Compliant)
}

func TestGuard_Check_PromptResolutionFailure_FailsOpen(t *testing.T) {
	ps := fakePromptStore{err: errors.New("prompt store unavailable")}
	g := New(&fakeLLM{}, ps, "guard-v1", nil)

	verdict, err := g.Check(context.Background(), model.UserMessage{Text: "hi"})
	assert.Error(t, err)
	assert.True(t, verdict.Compliant, "guard must fail open on prompt resolution error")
}

func TestGuard_Check_LLMFailure_FailsOpen(t *testing.T) {
	llm := &fakeLLM{err: errors.New("timeout")}
	ps := fakePromptStore{p: prompt.Prompt{Instructions: "screen this"}}
	g := New(llm, ps, "guard-v1", nil)

	verdict, err := g.Check(context.Background(), model.UserMessage{Text: "hi"})
	assert.Error(t, err)
	assert.True(t, verdict.Compliant, "guard must fail open on LLM error")
}

func TestGuard_Check_AppendsGlobalPoliciesToSystemPrompt(t *testing.T) {
	var capturedSystemPrompt string
	llm := &capturingLLM{onComplete: func(sp, up string) { capturedSystemPrompt = sp }}
	ps := fakePromptStore{p: prompt.Prompt{
		Instructions:         "base instructions",
		AdditionalProperties: prompt.Bag{prompt.KeyGlobalPolicies: "never discuss competitors"},
	}}
	g := New(llm, ps, "guard-v1", nil)

	_, err := g.Check(context.Background(), model.UserMessage{Text: "hi"})
	require.NoError(t, err)
	assert.Contains(t, capturedSystemPrompt, "base instructions")
	assert.Contains(t, capturedSystemPrompt, "never discuss competitors")
}

type capturingLLM struct {
	onComplete func(systemPrompt, userPrompt string)
}

func (c *capturingLLM) Complete(ctx context.Context, systemPrompt, userPrompt string, conversationID model.ConversationId) (string, error) {
	c.onComplete(systemPrompt, userPrompt)
	return "COMPLIANT", nil
}

func (c *capturingLLM) Run(ctx context.Context, messages []llmclient.Message, tools []model.ToolDefinition) (iter.Seq[llmclient.Chunk], <-chan llmclient.RunResult) {
	panic("not used by guard")
}
