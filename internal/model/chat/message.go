package chat

import (
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether the role is one of the two defined values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Part is a single text fragment of a message.
type Part struct {
	Text string `json:"text"`
}

// Message is one conversational turn. Parts are ordered and every
// message carries at least one non-empty part.
type Message struct {
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTextMessage builds a single-part message stamped with the current time.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:      role,
		Parts:     []Part{{Text: text}},
		Timestamp: time.Now().UTC(),
	}
}

// Valid reports whether the message carries a defined role and at
// least one non-empty text part.
func (m Message) Valid() bool {
	if !m.Role.Valid() {
		return false
	}
	for _, p := range m.Parts {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// Text joins all parts into the full message text.
func (m Message) Text() string {
	if len(m.Parts) == 1 {
		return m.Parts[0].Text
	}
	parts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}
