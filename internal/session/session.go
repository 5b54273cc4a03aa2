package session

import "time"

// Session is the conversation state for one chat (spec.md §3).
type Session struct {
	SessionID             string    `json:"session_id"`
	ChatID                string    `json:"chat_id"`
	MessageIDs            []string  `json:"message_ids"`
	MessageCounter        int       `json:"message_counter"`
	CreatedAt             time.Time `json:"created_at"`
	LastActive            time.Time `json:"last_active"`
	TotalTokens           int       `json:"total_tokens"`
	TransferredToLongterm bool      `json:"transferred_to_longterm"`
	StoragePath           string    `json:"storage_path,omitempty"`
}

// IsExpired reports whether the session has been idle longer than timeout,
// evaluated against now. The boundary is inclusive: exactly at timeout is
// expired (spec.md §8, "considered not-expired at <, expired at >=").
func (s Session) IsExpired(now time.Time, timeout time.Duration) bool {
	return !now.Before(s.LastActive.Add(timeout))
}
