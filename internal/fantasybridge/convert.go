// Package fantasybridge adapts charm.land/fantasy providers to the stream
// package contract.
package fantasybridge

import (
	"charm.land/fantasy"

	"github.com/dotcommander/gizmo/internal/proto"
)

var fantasyRoles = map[proto.Role]fantasy.MessageRole{
	proto.RoleSystem:    fantasy.MessageRoleSystem,
	proto.RoleUser:      fantasy.MessageRoleUser,
	proto.RoleAssistant: fantasy.MessageRoleAssistant,
}

func toFantasyPrompt(input []proto.Message) fantasy.Prompt {
	messages := make([]fantasy.Message, 0, len(input))
	for _, msg := range input {
		role, ok := fantasyRoles[msg.Role]
		if !ok || msg.Content == "" {
			continue
		}
		messages = append(messages, fantasy.Message{
			Role:    role,
			Content: []fantasy.MessagePart{fantasy.TextPart{Text: msg.Content}},
		})
	}
	return messages
}
