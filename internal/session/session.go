package session

import "time"

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents a single stored chat message
type Message struct {
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Platform  string    `json:"platform,omitempty" yaml:"platform,omitempty"`
	Model     string    `json:"model,omitempty" yaml:"model,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Summary describes a stored session without its messages
type Summary struct {
	ID           string    `json:"session_id" yaml:"session_id"`
	Title        string    `json:"title" yaml:"title"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
}

// State is what the shell currently has selected. It is passed explicitly
// to every turn instead of living in package globals.
type State struct {
	Platform  string
	Model     string
	SessionID string
}

// HasSession reports whether a conversation is selected.
func (s State) HasSession() bool {
	return s.SessionID != ""
}
