package agui

import (
	"strconv"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/liteagent/store"
)

// Role constants matching AG-UI protocol.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// FromConversations converts a task's stored conversation to AG-UI messages.
func FromConversations(convs []store.Conversation) []events.Message {
	result := make([]events.Message, 0, len(convs))
	for _, c := range convs {
		result = append(result, FromConversation(c))
	}
	return result
}

// FromConversation converts a single conversation record to an AG-UI message.
func FromConversation(c store.Conversation) events.Message {
	content := c.Content
	return events.Message{
		ID:      c.Role + "-" + strconv.FormatInt(c.ID, 10),
		Role:    fromStoreRole(c.Role),
		Content: &content,
	}
}

// Snapshot returns a MESSAGES_SNAPSHOT event for a task's conversation.
func Snapshot(convs []store.Conversation) events.Event {
	return events.NewMessagesSnapshotEvent(FromConversations(convs))
}

// fromStoreRole converts a stored role to an AG-UI role string.
func fromStoreRole(role string) string {
	switch role {
	case store.RoleAssistant:
		return RoleAssistant
	case RoleSystem:
		return RoleSystem
	case RoleTool:
		return RoleTool
	default:
		return RoleUser
	}
}
