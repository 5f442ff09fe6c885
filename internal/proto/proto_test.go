package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationString(t *testing.T) {
	for name, tc := range map[string]struct {
		in   Conversation
		want string
	}{
		"empty": {},
		"system is hidden": {
			in: Conversation{
				{Role: RoleSystem, Content: "you are gizmo"},
				{Role: RoleUser, Content: "hi"},
				{Role: RoleAssistant, Content: "hello!"},
			},
			want: "**Prompt**:\nhi\n\n**Assistant**:\nhello!\n\n",
		},
		"blank messages are skipped": {
			in: Conversation{
				{Role: RoleUser, Content: "weather?"},
				{Role: RoleAssistant},
			},
			want: "**Prompt**:\nweather?\n\n",
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.in.String())
		})
	}
}
