package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studybuddy-ai/server/internal/model/chat"
)

// Memory is an in-process session store suitable for tests and for
// running without a database. Sessions are deep-copied on the way in
// and out so callers never share slices with the store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
}

// NewMemory bootstraps an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*chat.Session)}
}

func (m *Memory) Find(_ context.Context, sessionID, userID string) (*chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *Memory) Save(_ context.Context, session *chat.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.sessions[session.ID]; ok {
		if existing.UserID != session.UserID {
			return ErrNotFound
		}
		session.CreatedAt = existing.CreatedAt
	} else if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.UserID != userID {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *Memory) List(_ context.Context, userID string, limit, offset int) ([]chat.Session, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owned := make([]*chat.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if session.UserID == userID {
			owned = append(owned, session)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
	})

	total := len(owned)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]chat.Session, 0, end-offset)
	for _, session := range owned[offset:end] {
		page = append(page, *cloneSession(session))
	}
	return page, total, nil
}

func cloneSession(s *chat.Session) *chat.Session {
	copied := *s
	copied.Messages = make([]chat.Message, len(s.Messages))
	for i, msg := range s.Messages {
		msg.Parts = append([]chat.Part(nil), msg.Parts...)
		copied.Messages[i] = msg
	}
	return &copied
}
