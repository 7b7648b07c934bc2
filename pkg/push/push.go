// Package push declares the outbound push-channel collaborator (spec §6).
// The transport to the end-user client (websocket, SSE, a chat-platform
// SDK, ...) is external; the core only needs these two operations.
package push

import "github.com/mdesalvo/Morgana-sub001/pkg/model"

// MessageType discriminates a structured push (§6).
type MessageType string

const (
	MessageAssistant   MessageType = "assistant"
	MessagePresentation MessageType = "presentation"
	MessageSystem      MessageType = "system"
	MessageError       MessageType = "error"
)

// StructuredMessage is the payload of Channel.SendStructured.
type StructuredMessage struct {
	Text           string
	MessageType    MessageType
	QuickReplies   []model.QuickReply
	ErrorReason    string
	AgentName      string
	AgentCompleted bool
}

// Channel is the outbound collaborator that delivers responses to the
// end-user client.
type Channel interface {
	SendPlain(conversationID model.ConversationId, text string, errorReason string) error
	SendStructured(conversationID model.ConversationId, msg StructuredMessage) error
}
