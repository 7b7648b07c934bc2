// Package httpapi exposes the thin HTTP ingress surface of spec §6:
// starting a conversation and posting a message to one, backed by the
// process-wide ConversationManager.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mdesalvo/Morgana-sub001/pkg/manager"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

// Server wraps a chi router bound to a Manager.
type Server struct {
	mux *chi.Mux
	mgr *manager.Manager
}

// New builds a Server with the standard middleware stack and routes.
func New(mgr *manager.Manager) *Server {
	s := &Server{mux: chi.NewRouter(), mgr: mgr}

	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.RealIP)
	s.mux.Use(middleware.Recoverer)

	s.mux.Post("/conversations", s.startConversation)
	s.mux.Post("/conversations/{id}/messages", s.postMessage)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type startConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

func (s *Server) startConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, startConversationResponse{ConversationID: uuid.NewString()})
}

type postMessageRequest struct {
	Text string `json:"text"`
}

type postMessageResponse struct {
	Response       string              `json:"response"`
	Classification string              `json:"classification"`
	AgentName      string              `json:"agent_name"`
	AgentCompleted bool                `json:"agent_completed"`
	QuickReplies   []model.QuickReply  `json:"quick_replies,omitempty"`
	RichCard       *model.RichCard     `json:"rich_card,omitempty"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if conversationID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	msg := model.UserMessage{
		ConversationID: model.ConversationId(conversationID),
		Text:           req.Text,
		Timestamp:      time.Now(),
	}

	resp, err := s.mgr.SubmitMessage(r.Context(), msg)
	if err != nil {
		if rl, ok := err.(*manager.RateLimitedError); ok {
			w.Header().Set("Retry-After", time.Duration(rl.RetryAfterSeconds*int64(time.Second)).String())
			http.Error(w, rl.Error(), http.StatusTooManyRequests)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, postMessageResponse{
		Response:       resp.Response,
		Classification: resp.Classification,
		AgentName:      resp.AgentName,
		AgentCompleted: resp.AgentCompleted,
		QuickReplies:   resp.QuickReplies,
		RichCard:       resp.RichCard,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
