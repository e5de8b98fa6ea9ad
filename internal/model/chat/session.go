package chat

import "time"

// Session is one logical conversation owned by a single user. Messages
// keep insertion order; the whole session persists as one document.
type Session struct {
	ID        string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewSession returns an empty session for the given owner. Timestamps
// are assigned by the store on first save.
func NewSession(sessionID, userID string) *Session {
	return &Session{
		ID:       sessionID,
		UserID:   userID,
		Messages: make([]Message, 0, 16),
	}
}

// Append adds a message to the end of the conversation.
func (s *Session) Append(m Message) {
	s.Messages = append(s.Messages, m)
}
