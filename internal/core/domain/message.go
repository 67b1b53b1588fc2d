package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the conversation history.
// Order in the history is conversation order.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	IsEdited    bool      `json:"is_edited"`
	IsStreaming bool      `json:"is_streaming,omitempty"`
}

// NewMessage creates a message with a fresh ID.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
}

// WireMessage is the {role, content} pair sent to the completion endpoint.
type WireMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToWire strips local metadata from a history slice.
func ToWire(messages []Message) []WireMessage {
	out := make([]WireMessage, len(messages))
	for i, m := range messages {
		out[i] = WireMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// CloneMessages returns a copy of the slice that shares no backing array.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
