package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/persistence"
	"github.com/mdesalvo/Morgana-sub001/pkg/registry"
)

type recordingAgent struct {
	intent string

	mu       sync.Mutex
	received []model.BroadcastContextUpdate
	turns    int
}

func (a *recordingAgent) Intent() string { return a.intent }

func (a *recordingAgent) ExecuteTurn(ctx context.Context, req registry.TurnRequest, onChunk func(string)) (model.AgentResponse, error) {
	a.mu.Lock()
	a.turns++
	a.mu.Unlock()
	if onChunk != nil {
		onChunk("chunk")
	}
	return model.AgentResponse{ResponseText: "handled: " + req.Text, IsCompleted: true}, nil
}

func (a *recordingAgent) ReceiveContextUpdate(update model.BroadcastContextUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received = append(a.received, update)
}

func newTestRouter(t *testing.T) (*Router, *registry.AgentRegistry, map[string]*recordingAgent) {
	t.Helper()
	agents := map[string]*recordingAgent{
		"billing": {intent: "billing"},
		"support": {intent: "support"},
	}
	reg := registry.NewAgentRegistry()
	for intent, a := range agents {
		a := a
		require.NoError(t, reg.Register(intent, func(model.ConversationId) registry.Agent { return a }))
	}
	r := New("conv-1", reg, persistence.NewInMemory(), nil)
	return r, reg, agents
}

func TestRouter_Dispatch_NilClassification_SynthesizesTerminalResponse(t *testing.T) {
	r, _, _ := newTestRouter(t)
	resp, err := r.Dispatch(context.Background(), nil, "hi", trace.SpanContext{}, "sorry, classification failed")
	require.NoError(t, err)
	assert.Equal(t, "sorry, classification failed", resp.ResponseText)
	assert.True(t, resp.IsCompleted)
}

func TestRouter_Dispatch_OtherClassification_SynthesizesTerminalResponse(t *testing.T) {
	r, _, _ := newTestRouter(t)
	cls := &model.Classification{Intent: model.OtherIntent}
	resp, err := r.Dispatch(context.Background(), cls, "hi", trace.SpanContext{}, "no handler for that")
	require.NoError(t, err)
	assert.Equal(t, "no handler for that", resp.ResponseText)
}

func TestRouter_Dispatch_RoutesToRegisteredAgent(t *testing.T) {
	r, _, agents := newTestRouter(t)
	cls := &model.Classification{Intent: "billing"}

	resp, err := r.Dispatch(context.Background(), cls, "what's my balance", trace.SpanContext{}, "")
	require.NoError(t, err)
	assert.Equal(t, "handled: what's my balance", resp.ResponseText)
	assert.Equal(t, 1, agents["billing"].turns)
}

func TestRouter_Dispatch_UnregisteredIntent_SynthesizesTerminalResponse(t *testing.T) {
	r, _, _ := newTestRouter(t)
	cls := &model.Classification{Intent: "unknown"}

	resp, err := r.Dispatch(context.Background(), cls, "hi", trace.SpanContext{}, "no handler for that intent")
	require.NoError(t, err)
	assert.Equal(t, "no handler for that intent", resp.ResponseText)
	assert.True(t, resp.IsCompleted)
}

func TestRouter_DispatchStreaming_ForwardsChunks(t *testing.T) {
	r, _, _ := newTestRouter(t)
	cls := &model.Classification{Intent: "billing"}

	var chunks []string
	_, err := r.DispatchStreaming(context.Background(), cls, "hi", trace.SpanContext{}, "", func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk"}, chunks)
}

func TestRouter_Dispatch_AgentConstructedLazilyAndCached(t *testing.T) {
	r, _, _ := newTestRouter(t)
	cls := &model.Classification{Intent: "billing"}

	assert.Empty(t, r.LiveIntents())
	_, err := r.Dispatch(context.Background(), cls, "hi", trace.SpanContext{}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, r.LiveIntents())
}

func TestRouter_Broadcast_ExcludesSourceAgent(t *testing.T) {
	r, _, agents := newTestRouter(t)
	cls := &model.Classification{Intent: "billing"}
	_, err := r.Dispatch(context.Background(), cls, "hi", trace.SpanContext{}, "")
	require.NoError(t, err)
	cls2 := &model.Classification{Intent: "support"}
	_, err = r.Dispatch(context.Background(), cls2, "hi", trace.SpanContext{}, "")
	require.NoError(t, err)

	r.Broadcast(context.Background(), model.BroadcastContextUpdate{SourceIntent: "billing", Updates: map[string]any{"account_id": "acct-1"}})

	assert.Empty(t, agents["billing"].received, "the source agent must never receive its own broadcast")
	require.Len(t, agents["support"].received, 1)
	assert.Equal(t, "acct-1", agents["support"].received[0].Updates["account_id"])
}

func TestRouter_RestoreAgent_ConstructsWithoutDispatching(t *testing.T) {
	r, _, agents := newTestRouter(t)
	require.NoError(t, r.RestoreAgent("billing"))

	assert.Equal(t, []string{"billing"}, r.LiveIntents())
	assert.Equal(t, 0, agents["billing"].turns, "RestoreAgent must not execute a turn")
}
