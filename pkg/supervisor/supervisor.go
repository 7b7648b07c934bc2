// Package supervisor implements the per-conversation Supervisor FSM of
// spec §4.1: guard screening, intent classification (with sticky-agent
// bypass across a multi-turn exchange), dispatch to the target agent,
// and assembly of the outward ConversationResponse.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mdesalvo/Morgana-sub001/pkg/actor"
	"github.com/mdesalvo/Morgana-sub001/pkg/classifier"
	"github.com/mdesalvo/Morgana-sub001/pkg/guard"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/prompt"
	"github.com/mdesalvo/Morgana-sub001/pkg/push"
	"github.com/mdesalvo/Morgana-sub001/pkg/router"
)

// idleTimeout is how long a conversation's Supervisor sits unused
// before its onIdle callback fires (§3 Lifecycles: idle teardown).
const idleTimeout = 30 * time.Minute

// Supervisor drives one conversation's FSM. It is itself an actor: its
// mailbox loop gives the whole turn — guard, classification, dispatch —
// the "at most one turn in flight" guarantee of I1 for free, since every
// step below runs synchronously inside the single handler goroutine.
type Supervisor struct {
	conversationID model.ConversationId

	guard      *guard.Guard
	classifier *classifier.Classifier
	router     *router.Router
	push       push.Channel

	promptStore prompt.Store
	promptID    string
	logger      *slog.Logger

	mu           sync.Mutex
	stickyIntent string // "" means no sticky agent — next turn classifies fresh

	act *actor.Actor
}

// New constructs and spawns a Supervisor. onIdle is invoked by the
// actor runtime when idleTimeout elapses with no message processed;
// callers typically use it to deregister the conversation (§3).
func New(
	conversationID model.ConversationId,
	g *guard.Guard,
	c *classifier.Classifier,
	r *router.Router,
	pushCh push.Channel,
	promptStore prompt.Store,
	promptID string,
	logger *slog.Logger,
	onIdle func(),
) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		conversationID: conversationID,
		guard:          g,
		classifier:     c,
		router:         r,
		push:           pushCh,
		promptStore:    promptStore,
		promptID:       promptID,
		logger:         logger,
	}
	if onIdle == nil {
		onIdle = func() {}
	}
	s.act = actor.Spawn(
		"supervisor-"+string(conversationID),
		s.handle,
		actor.WithIdleTimeout(idleTimeout, onIdle),
	)
	return s
}

// Stop terminates the Supervisor's actor.
func (s *Supervisor) Stop() { s.act.Stop() }

// SubmitMessage enqueues msg and blocks for the turn's ConversationResponse.
func (s *Supervisor) SubmitMessage(ctx context.Context, msg model.UserMessage) (model.ConversationResponse, error) {
	resp, err := s.act.Ask(ctx, msg)
	if err != nil {
		return model.ConversationResponse{}, err
	}
	return resp.(model.ConversationResponse), nil
}

func (s *Supervisor) handle(ctx context.Context, req actor.Request) actor.Response {
	msg, ok := req.Payload.(model.UserMessage)
	if !ok {
		return actor.Response{Err: context.Canceled}
	}
	return actor.Response{Payload: s.processTurn(ctx, msg, req.Stream)}
}

// processTurn runs states Idle → AwaitingGuard → AwaitingClassification
// (or the sticky bypass) → AwaitingAgent → Idle (§4.1).
func (s *Supervisor) processTurn(ctx context.Context, msg model.UserMessage, stream chan any) model.ConversationResponse {
	verdict, guardErr := s.guard.Check(ctx, msg) // AwaitingGuard; fails open on guardErr (transition 2)
	_ = guardErr
	if !verdict.Compliant {
		return s.terminalResponse(msg, s.renderedTemplate(prompt.KeyGuardAnswer, "violation", verdict.Violation), model.OtherIntent)
	}

	// AwaitingClassification, or sticky bypass, or — on classifier error —
	// the synthesized {intent:"other", confidence:0, metadata:{error:...}}
	// of §4.1 transition 6, which proceeds to the Router exactly as a
	// successful classification would (step 5): the Router is the sole
	// authority on whether "other" (or any intent) is actually bound to an
	// agent, and produces the deterministic refusal itself.
	classification, sticky := s.resolveClassification(ctx, msg)

	onChunk := func(text string) {
		if stream != nil {
			stream <- text
		}
		if s.push != nil {
			_ = s.push.SendPlain(msg.ConversationID, text, "")
		}
	}

	fallbackText := s.renderedTemplate(prompt.KeyUnrecognizedIntentError, "", "")
	agentResp, err := s.router.DispatchStreaming(ctx, &classification, msg.Text, msg.TurnTrace, fallbackText, onChunk) // AwaitingAgent
	if err != nil {
		s.logger.Error("supervisor: dispatch failed", "conversation_id", msg.ConversationID, "intent", classification.Intent, "error", err)
		return s.terminalResponse(msg, s.renderedTemplate(prompt.KeyLLMServiceError, "", ""), classification.Intent)
	}

	s.updateSticky(classification.Intent, agentResp.IsCompleted, sticky)

	out := model.ConversationResponse{
		Response:          agentResp.ResponseText,
		Classification:    classification.Intent,
		Metadata:          classification.Metadata,
		AgentName:         classification.Intent,
		AgentCompleted:    agentResp.IsCompleted,
		QuickReplies:      agentResp.QuickReplies,
		RichCard:          agentResp.RichCard,
		OriginalTimestamp: msg.Timestamp,
	}
	s.pushStructured(msg.ConversationID, out)
	return out
}

// resolveClassification implements the sticky-agent policy: a
// conversation mid multi-turn exchange with an agent (its last response
// was not IsCompleted) bypasses the classifier entirely and is routed
// straight back to that agent (§4.1 "sticky agent"). sticky reports
// whether the bypass was taken; updateSticky derives the next sticky
// intent from the agent's completion flag alone.
func (s *Supervisor) resolveClassification(ctx context.Context, msg model.UserMessage) (model.Classification, bool) {
	s.mu.Lock()
	intent := s.stickyIntent
	s.mu.Unlock()

	if intent != "" {
		return model.Classification{Intent: intent, Confidence: 1.0}, true
	}

	classification, err := s.classifier.Classify(ctx, msg)
	if err != nil {
		// §4.1 transition 6: synthesize other/0/metadata.error and let the
		// Router's "other" handling produce the graceful refusal.
		return model.Classification{
			Intent:     model.OtherIntent,
			Confidence: 0,
			Metadata:   map[string]string{"error": fmt.Sprintf("classification_failed: %v", err)},
		}, false
	}
	return classification, false
}

func (s *Supervisor) updateSticky(intent string, completed bool, wasSticky bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if completed {
		s.stickyIntent = ""
		return
	}
	s.stickyIntent = intent
}

func (s *Supervisor) terminalResponse(msg model.UserMessage, text string, intent string) model.ConversationResponse {
	out := model.ConversationResponse{
		Response:          text,
		Classification:    intent,
		AgentName:         intent,
		AgentCompleted:    true,
		OriginalTimestamp: msg.Timestamp,
	}
	s.pushStructured(msg.ConversationID, out)
	return out
}

func (s *Supervisor) pushStructured(conversationID model.ConversationId, out model.ConversationResponse) {
	if s.push == nil {
		return
	}
	if err := s.push.SendStructured(conversationID, push.StructuredMessage{
		Text:           out.Response,
		MessageType:    push.MessageAssistant,
		QuickReplies:   out.QuickReplies,
		AgentName:      out.AgentName,
		AgentCompleted: out.AgentCompleted,
	}); err != nil {
		s.logger.Warn("supervisor: push failed", "conversation_id", conversationID, "error", err)
	}
}

// renderedTemplate resolves the Supervisor's own prompt and renders one
// of its error/answer templates, substituting placeholder if non-empty.
// Resolution failures fall back to a fixed, deterministic string so a
// broken prompt store never leaves a turn without a response.
func (s *Supervisor) renderedTemplate(key, placeholder, value string) string {
	const fallback = "Sorry, I'm unable to help with that right now."

	p, err := s.promptStore.Resolve(s.promptID)
	if err != nil {
		s.logger.Warn("supervisor: prompt resolution failed", "error", err)
		return fallback
	}
	template := p.AdditionalProperties.String(key)
	if template == "" {
		return fallback
	}
	if placeholder == "" {
		return template
	}
	return prompt.Render(template, placeholder, value)
}
