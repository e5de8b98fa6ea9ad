package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studybuddy-ai/server/internal/model/chat"
)

// Postgres persists each session as one row with its messages in a
// JSONB column, so a save is a single atomic document write.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPool opens and pings a connection pool for the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(databaseURL string, migrationsFS fs.FS) error {
	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	log.Printf("[store] migrations applied version=%d dirty=%v", version, dirty)
	return nil
}

// NewPostgres wraps a pool in a session store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Find(ctx context.Context, sessionID, userID string) (*chat.Session, error) {
	const query = `
		SELECT session_id, user_id, messages, created_at, updated_at
		FROM chat_sessions
		WHERE session_id = $1 AND user_id = $2`

	session, err := scanSession(p.pool.QueryRow(ctx, query, sessionID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return session, nil
}

func (p *Postgres) Save(ctx context.Context, session *chat.Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	payload, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	// The conflict update is guarded by user_id so an upsert can never
	// overwrite another user's session with the same id.
	const query = `
		INSERT INTO chat_sessions (session_id, user_id, messages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET messages = EXCLUDED.messages, updated_at = EXCLUDED.updated_at
		WHERE chat_sessions.user_id = EXCLUDED.user_id`

	tag, err := p.pool.Exec(ctx, query, session.ID, session.UserID, payload, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, sessionID, userID string) error {
	const query = `DELETE FROM chat_sessions WHERE session_id = $1 AND user_id = $2`

	tag, err := p.pool.Exec(ctx, query, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, userID string, limit, offset int) ([]chat.Session, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM chat_sessions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	const query = `
		SELECT session_id, user_id, messages, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := p.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]chat.Session, 0, limit)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	return sessions, total, nil
}

func scanSession(row pgx.Row) (*chat.Session, error) {
	var (
		session chat.Session
		payload []byte
	)
	if err := row.Scan(&session.ID, &session.UserID, &payload, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &session.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return &session, nil
}
