// Package proto holds the provider-neutral chat types passed between the
// engine and the streaming backends.
package proto

import (
	"fmt"
	"strings"
)

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single streamed generation.
type Request struct {
	Messages    []Message
	API         string
	Model       string
	User        string
	MaxTokens   *int64
	Temperature *float64
	TopP        *float64
	TopK        *int64
}

// Chunk is an incremental piece of generated text.
type Chunk struct {
	Content string
}

// Conversation is a list of messages that renders as markdown.
type Conversation []Message

func (c Conversation) String() string {
	var sb strings.Builder
	for _, msg := range c {
		if msg.Content == "" {
			continue
		}
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleUser:
			sb.WriteString("**Prompt**:\n")
		case RoleAssistant:
			sb.WriteString("**Assistant**:\n")
		default:
			fmt.Fprintf(&sb, "**%s**:\n", msg.Role)
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}
