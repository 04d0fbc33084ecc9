// Package sessions persists the question and answer history of chat
// sessions.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("session not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	SQL     string    `json:"sql,omitempty"`
	Status  string    `json:"status,omitempty"`
	At      time.Time `json:"at"`
}

type Session struct {
	ID        uuid.UUID `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SessionListItem struct {
	ID           uuid.UUID `json:"id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Config struct {
	Logger *slog.Logger
	DB     DB
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	return nil
}

type Store struct {
	log *slog.Logger
	db  DB
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate sessions config: %w", err)
	}
	return &Store{log: cfg.Logger, db: cfg.DB}, nil
}

// Migrate creates the sessions table and its index.
func (s *Store) Migrate(ctx context.Context) error {
	s.log.Info("sessions: running migrations")

	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			content JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_sessions_updated
		ON sessions (updated_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sessions index: %w", err)
	}
	return nil
}

// Append adds messages to a session, creating it on first use.
func (s *Store) Append(ctx context.Context, id uuid.UUID, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	content, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sessions (id, content)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO UPDATE
		SET content = sessions.content || EXCLUDED.content, updated_at = NOW()
	`, id, string(content))
	if err != nil {
		return fmt.Errorf("failed to append to session %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	var content []byte
	sess := &Session{ID: id}
	err := s.db.QueryRow(ctx, `
		SELECT content, created_at, updated_at FROM sessions WHERE id = $1
	`, id).Scan(&content, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	if err := json.Unmarshal(content, &sess.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return sess, nil
}

// List returns sessions, most recently updated first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]SessionListItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, jsonb_array_length(content), created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC, id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	items := []SessionListItem{}
	for rows.Next() {
		var it SessionListItem
		if err := rows.Scan(&it.ID, &it.MessageCount, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return items, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
