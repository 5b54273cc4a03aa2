package session

import "time"

// Role is the speaker of a Message turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single immutable turn in a conversation (spec.md §3). Messages
// live inside their owning session's storage directory, one file per
// message.
type Message struct {
	MessageID     string    `json:"message_id"`
	SessionID     string    `json:"session_id"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	Sender        string    `json:"sender,omitempty"`
	Recipient     string    `json:"recipient,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	SequenceNum   int       `json:"sequence_num"`
	AttachmentRef string    `json:"attachment_ref,omitempty"`
}
