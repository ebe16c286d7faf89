package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// PGMessageStore implements store.MessageStore backed by Postgres.
type PGMessageStore struct {
	db *sql.DB
}

func NewPGMessageStore(db *sql.DB) *PGMessageStore {
	return &PGMessageStore{db: db}
}

func (s *PGMessageStore) Insert(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	m.CreatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
		 (id, conversation_id, instance_id, external_id, direction, content,
		  message_type, auto_responded, sent_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (instance_id, external_id) DO NOTHING`,
		m.ID, m.ConversationID, m.InstanceID, m.ExternalID, m.Direction,
		m.Content, m.MessageType, m.AutoResponded, m.SentAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

// LastN returns the newest n messages of a conversation in oldest-first
// order, ready to be mapped into provider chat roles.
func (s *PGMessageStore) LastN(ctx context.Context, conversationID uuid.UUID, n int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, instance_id, external_id, direction, content,
		        message_type, auto_responded, sent_at, created_at
		 FROM (
		     SELECT * FROM messages WHERE conversation_id = $1
		     ORDER BY sent_at DESC LIMIT $2
		 ) recent ORDER BY sent_at ASC`,
		conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var result []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.InstanceID, &m.ExternalID,
			&m.Direction, &m.Content, &m.MessageType, &m.AutoResponded,
			&m.SentAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *PGMessageStore) MarkAutoResponded(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET auto_responded = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark auto-responded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
