// Package agentrt implements the per-agent turn-processing runtime of
// spec §4.4: session lifecycle, LLM invocation, completion analysis,
// ephemeral-artifact extraction, and best-effort persistence.
package agentrt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mdesalvo/Morgana-sub001/pkg/history"
	"github.com/mdesalvo/Morgana-sub001/pkg/llmclient"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/persistence"
	"github.com/mdesalvo/Morgana-sub001/pkg/prompt"
	"github.com/mdesalvo/Morgana-sub001/pkg/registry"
	"github.com/mdesalvo/Morgana-sub001/pkg/session"
	"github.com/mdesalvo/Morgana-sub001/pkg/tool"
)

// CompletionSentinel is the literal string used by the LLM to signal
// "turn not complete" (§6, bit-exact).
const CompletionSentinel = "#INT#"

const maxToolIterations = 5

// BroadcastFunc publishes a shared-context write to the router (§4.4).
type BroadcastFunc func(update model.BroadcastContextUpdate)

// Config wires one Runtime at agent construction time. Everything here
// is immutable for the lifetime of the agent.
type Config struct {
	Intent         string
	ConversationID model.ConversationId

	Store       persistence.Store
	LLM         llmclient.Client
	PromptStore prompt.Store
	PromptID    string

	// Delegate is the single domain tool class for this intent, or nil
	// if the intent has no domain capabilities (§4.4 construction step b).
	Delegate      tool.Delegate
	DeclaredTools []model.ToolDefinition

	HistoryReducer history.Reducer
	Broadcast      BroadcastFunc

	// Debug controls whether the completion sentinel is forwarded to
	// the client verbatim (true) or stripped (false, default in release
	// builds) — §4.4 step 7, an explicit Open Question in the spec.
	Debug bool

	Logger *slog.Logger
}

// Runtime is one agent's turn-processing state machine.
type Runtime struct {
	cfg      Config
	toolDefs []model.ToolDefinition
	sess     *session.AgentSession
	logger   *slog.Logger
}

// New constructs a Runtime, merging framework and declared tools and
// validating the declared tools against the delegate's method shapes
// (§4.4 construction, §4.5 delegate validation). Construction performs
// no blocking I/O (§9 Design Notes — no GetAwaiter().GetResult()
// equivalent here): the session is loaded lazily on the first turn.
func New(cfg Config) (*Runtime, error) {
	if cfg.Intent == "" {
		return nil, fmt.Errorf("agentrt: intent is required")
	}
	if cfg.Delegate != nil {
		if err := tool.ValidateAgainst(cfg.DeclaredTools, cfg.Delegate.Methods()); err != nil {
			return nil, fmt.Errorf("agentrt: %s: %w", cfg.Intent, err)
		}
	}

	toolDefs := append(append([]model.ToolDefinition(nil), tool.BuiltinDefinitions()...), cfg.DeclaredTools...)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runtime{cfg: cfg, toolDefs: toolDefs, logger: logger}, nil
}

// Intent implements registry.Agent.
func (r *Runtime) Intent() string { return r.cfg.Intent }

func (r *Runtime) identifier() model.AgentIdentifier {
	return model.AgentIdentifier{Intent: r.cfg.Intent, ConversationID: r.cfg.ConversationID}
}

func (r *Runtime) sharedNames() []string {
	var names []string
	for _, def := range r.cfg.DeclaredTools {
		for _, p := range def.SharedParameters() {
			names = append(names, p.Name)
		}
	}
	return names
}

// ensureSession loads the session from persistence on first use, or
// creates a fresh one, and (re)wires the shared-context broadcast
// callback — which is never itself part of the serialized state (§4.4).
func (r *Runtime) ensureSession() {
	if r.sess != nil {
		return
	}

	payload, found, err := r.cfg.Store.Load(r.identifier())
	if err != nil {
		r.logger.Warn("agentrt: session load failed, starting fresh", "intent", r.cfg.Intent, "conversation_id", r.cfg.ConversationID, "error", err)
		found = false
	}

	if found {
		r.sess = session.FromPayload(payload, r.cfg.HistoryReducer)
	} else {
		r.sess = session.New(r.sharedNames(), r.cfg.HistoryReducer)
	}

	intent := r.cfg.Intent
	broadcast := r.cfg.Broadcast
	r.sess.Vars.Rewire(func(name string, value any) {
		if broadcast != nil {
			broadcast(model.BroadcastContextUpdate{SourceIntent: intent, Updates: map[string]any{name: value}})
		}
	})
}

// ReceiveContextUpdate implements registry.Agent. If the session does
// not exist yet, the update is queued (§4.4 "queued merges"); otherwise
// it is queued on the live session's store for the next ExecuteTurn's
// drain step — merges are always applied at the start of a turn, never
// mid-turn, so ordering relative to the owning agent's own writes stays
// well-defined.
func (r *Runtime) ReceiveContextUpdate(update model.BroadcastContextUpdate) {
	r.ensureSession()
	r.sess.Vars.QueueMerge(update)
}

// ExecuteTurn runs steps 1-7 of §4.4 for one user message.
func (r *Runtime) ExecuteTurn(ctx context.Context, req registry.TurnRequest, onChunk func(string)) (resp model.AgentResponse, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("agentrt: panic during turn", "intent", r.cfg.Intent, "conversation_id", r.cfg.ConversationID, "panic", rec)
			resp, err = r.genericErrorResponse(), nil
		}
	}()

	r.ensureSession()          // step 1
	r.sess.Vars.DrainMerges() // step 2

	r.sess.History.Append(llmclient.Message{Role: llmclient.RoleUser, Content: req.Text})

	responseText, runErr := r.runWithTools(ctx, onChunk) // step 3 + tool loop
	if runErr != nil {
		r.logger.Error("agentrt: llm run failed", "intent", r.cfg.Intent, "conversation_id", r.cfg.ConversationID, "error", runErr)
		return r.genericErrorResponse(), nil
	}

	r.sess.History.Append(llmclient.Message{Role: llmclient.RoleAssistant, Content: responseText})

	isCompleted := r.analyzeCompletion(responseText) // step 4

	quickReplies := tool.ExtractQuickReplies(r.sess.Vars)
	richCard := tool.ExtractRichCard(r.sess.Vars)
	r.sess.Vars.Delete(tool.KeyQuickReplies) // step 5
	r.sess.Vars.Delete(tool.KeyRichCard)

	if err := r.cfg.Store.Save(r.identifier(), r.sess.ToPayload()); err != nil { // step 6, best-effort
		r.logger.Warn("agentrt: session save failed", "intent", r.cfg.Intent, "conversation_id", r.cfg.ConversationID, "error", err)
	}

	outgoing := responseText
	if !r.cfg.Debug {
		outgoing = strings.ReplaceAll(outgoing, CompletionSentinel, "") // step 7
		outgoing = strings.TrimSpace(outgoing)
	}

	return model.AgentResponse{
		ResponseText: outgoing,
		IsCompleted:  isCompleted,
		QuickReplies: quickReplies,
		RichCard:     richCard,
	}, nil
}

// runWithTools drives the LLM, executing any tool invocations it
// requests and feeding the results back, up to maxToolIterations times.
func (r *Runtime) runWithTools(ctx context.Context, onChunk func(string)) (string, error) {
	var aggregated strings.Builder

	for i := 0; i < maxToolIterations; i++ {
		chunks, resultCh := r.cfg.LLM.Run(ctx, r.sess.History.View(), r.toolDefs)

		var turnText strings.Builder
		for chunk := range chunks {
			if chunk.Text == "" {
				continue
			}
			turnText.WriteString(chunk.Text)
			if onChunk != nil {
				onChunk(chunk.Text)
			}
		}
		aggregated.WriteString(turnText.String())

		result := <-resultCh
		if result.Err != nil {
			return "", result.Err
		}
		if len(result.ToolInvocations) == 0 {
			return aggregated.String(), nil
		}

		if turnText.Len() > 0 {
			r.sess.History.Append(llmclient.Message{Role: llmclient.RoleAssistant, Content: turnText.String()})
		}

		for _, inv := range result.ToolInvocations {
			output := r.invokeTool(inv)
			r.sess.History.Append(llmclient.Message{
				Role:       llmclient.RoleTool,
				Content:    output,
				ToolName:   inv.ToolName,
				ToolCallID: inv.CallID,
			})
		}
	}

	return aggregated.String(), nil
}

// invokeTool dispatches one ToolInvocation to the built-in runtime or
// the domain delegate. Tool errors are returned to the model as a
// deterministic string, never propagated (§7).
func (r *Runtime) invokeTool(inv llmclient.ToolInvocation) string {
	rt := tool.NewRuntime(r.sess.Vars)

	switch inv.ToolName {
	case tool.ToolGetContextVariable:
		return rt.GetContextVariable(stringArg(inv.Arguments, "name"))
	case tool.ToolSetContextVariable:
		return rt.SetContextVariable(stringArg(inv.Arguments, "name"), stringArg(inv.Arguments, "value"))
	case tool.ToolSetQuickReplies:
		return rt.SetQuickReplies(stringArg(inv.Arguments, "quick_replies_json"))
	case tool.ToolSetRichCard:
		return rt.SetRichCard(stringArg(inv.Arguments, "rich_card_json"))
	}

	if r.cfg.Delegate == nil {
		return fmt.Sprintf("Error: no tool named %q is available.", inv.ToolName)
	}
	out, err := r.cfg.Delegate.Invoke(inv.ToolName, inv.Arguments)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// analyzeCompletion implements the boolean expression of §4.4 step 4 / I7.
func (r *Runtime) analyzeCompletion(responseText string) bool {
	hasSentinel := strings.Contains(strings.ToLower(responseText), strings.ToLower(CompletionSentinel))

	trimmed := strings.TrimRightFunc(responseText, func(rn rune) bool { return rn == ' ' || rn == '\t' || rn == '\n' || rn == '\r' })
	endsWithQuestion := strings.HasSuffix(trimmed, "?")

	hasQuickReplies := len(tool.ExtractQuickReplies(r.sess.Vars)) > 0
	hasRichCard := tool.ExtractRichCard(r.sess.Vars) != nil

	return !(hasSentinel || endsWithQuestion || hasQuickReplies || hasRichCard)
}

func (r *Runtime) genericErrorResponse() model.AgentResponse {
	text := "Sorry, something went wrong handling your request. Please try again."
	if r.cfg.PromptStore != nil && r.cfg.PromptID != "" {
		if p, err := r.cfg.PromptStore.Resolve(r.cfg.PromptID); err == nil {
			var answers map[string]string
			if decErr := p.AdditionalProperties.Decode(prompt.KeyErrorAnswers, &answers); decErr == nil {
				if generic, ok := answers["Generic"]; ok && generic != "" {
					text = generic
				}
			}
		}
	}
	return model.AgentResponse{ResponseText: text, IsCompleted: true}
}

var _ registry.Agent = (*Runtime)(nil)
