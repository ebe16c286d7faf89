package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

type messageStore struct {
	db *sql.DB
}

func (s *messageStore) Insert(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	m.CreatedAt = now

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
		 (id, conversation_id, instance_id, external_id, direction, content,
		  message_type, auto_responded, sent_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (instance_id, external_id) DO NOTHING`,
		m.ID.String(), m.ConversationID.String(), m.InstanceID.String(), m.ExternalID,
		string(m.Direction), m.Content, m.MessageType, m.AutoResponded,
		ns(m.SentAt), ns(now))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

// LastN returns the newest n messages of a conversation in oldest-first
// order.
func (s *messageStore) LastN(ctx context.Context, conversationID uuid.UUID, n int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, instance_id, external_id, direction, content,
		        message_type, auto_responded, sent_at, created_at
		 FROM (
		     SELECT * FROM messages WHERE conversation_id = ?
		     ORDER BY sent_at DESC LIMIT ?
		 ) recent ORDER BY sent_at ASC`,
		conversationID.String(), n)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var result []store.Message
	for rows.Next() {
		var m store.Message
		var id, conversation, instance, direction string
		var sentNS, createdNS int64
		if err := rows.Scan(&id, &conversation, &instance, &m.ExternalID,
			&direction, &m.Content, &m.MessageType, &m.AutoResponded,
			&sentNS, &createdNS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("scan message id: %w", err)
		}
		if m.ConversationID, err = uuid.Parse(conversation); err != nil {
			return nil, fmt.Errorf("scan message conversation: %w", err)
		}
		if m.InstanceID, err = uuid.Parse(instance); err != nil {
			return nil, fmt.Errorf("scan message instance: %w", err)
		}
		m.Direction = store.MessageDirection(direction)
		m.SentAt = fromNS(sentNS)
		m.CreatedAt = fromNS(createdNS)
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *messageStore) MarkAutoResponded(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET auto_responded = 1 WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("mark auto-responded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
