package domain

import "strings"

// Role identifies who authored a Turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is the provider-agnostic chat message shape passed between the
// conversation controller, the budgeter and the LLM integration.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemTurn(content string) Turn    { return Turn{Role: RoleSystem, Content: content} }
func UserTurn(content string) Turn      { return Turn{Role: RoleUser, Content: content} }
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// ParseRole maps a persisted role name back to a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSystem:
		return RoleSystem, true
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	}
	return "", false
}

// Stream is a lazy, finite, non-restartable sequence of generated text
// fragments. Callers must Close it once done.
type Stream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Passage is a single ranked retrieval hit.
type Passage struct {
	Content     string
	SourceLabel string
}
