package domain

import "time"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Label is the speaker prefix used when rendering a transcript.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Turn is one message of a conversation.
type Turn struct {
	Role      Role      `json:"role"       db:"role"`
	Content   string    `json:"content"    db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Chat is the user-owned record of a conversation.
type Chat struct {
	ID        string    `json:"chat_id"    db:"id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	Title     string    `json:"title"      db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultChatTitle is shown until a title has been derived from the first question.
const DefaultChatTitle = "New Chat"
