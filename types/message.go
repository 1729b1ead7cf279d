package types

import "fmt"

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// NewUserMessage creates a user turn.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant turn.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewSystemMessage creates a system turn.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// ValidateHistory checks that after an optional leading system turn,
// user and assistant turns strictly alternate.
func ValidateHistory(msgs []Message) error {
	start := 0
	if len(msgs) > 0 && msgs[0].Role == RoleSystem {
		start = 1
	}
	var prev Role
	for i := start; i < len(msgs); i++ {
		r := msgs[i].Role
		if r != RoleUser && r != RoleAssistant {
			return fmt.Errorf("message %d: unexpected role %q", i, r)
		}
		if r == prev {
			return fmt.Errorf("message %d: role %q repeated", i, r)
		}
		prev = r
	}
	return nil
}

// LastUserContent returns the content of the final message when it is a user turn.
func LastUserContent(msgs []Message) (string, bool) {
	if len(msgs) == 0 {
		return "", false
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleUser {
		return "", false
	}
	return last.Content, true
}
