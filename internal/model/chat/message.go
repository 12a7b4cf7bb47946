package chat

import "github.com/cloudwego/eino/schema"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. Immutable once created.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToSchemaMessages converts stored turns into eino messages for model input.
// Turns with unknown roles are skipped.
func ToSchemaMessages(messages []Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			result = append(result, schema.UserMessage(msg.Content))
		case RoleAssistant:
			result = append(result, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return result
}
