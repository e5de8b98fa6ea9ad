package store

import (
	"context"
	"errors"

	"github.com/studybuddy-ai/server/internal/model/chat"
)

var ErrNotFound = errors.New("session not found")

// Store is the persistence boundary for chat sessions. Every read and
// write is scoped to the owning user; a session id that exists under a
// different user behaves as if it did not exist.
type Store interface {
	// Find returns the session with the given id owned by userID.
	Find(ctx context.Context, sessionID, userID string) (*chat.Session, error)

	// Save upserts the session as a single document write and refreshes
	// UpdatedAt (and CreatedAt on first save) on the passed value.
	Save(ctx context.Context, session *chat.Session) error

	// Delete permanently removes the session and its messages.
	Delete(ctx context.Context, sessionID, userID string) error

	// List returns a page of the user's sessions sorted by UpdatedAt
	// descending, along with the total session count for the user.
	List(ctx context.Context, userID string, limit, offset int) ([]chat.Session, int, error)
}
