package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

type conversationStore struct {
	db *sql.DB
}

// FindOrCreate resolves the conversation for (instance, contact).
// Same shape as the Postgres store: insert with ON CONFLICT DO NOTHING,
// then re-read so racing ingests converge on one row.
func (s *conversationStore) FindOrCreate(ctx context.Context, instanceID uuid.UUID, contact, contactName string) (*store.Conversation, error) {
	if conv, err := s.getByContact(ctx, instanceID, contact); err == nil {
		return conv, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.Must(uuid.NewV7())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, instance_id, contact, contact_name, last_message_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (instance_id, contact) DO NOTHING`,
		id.String(), instanceID.String(), contact, contactName, ns(now), ns(now))
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return s.getByContact(ctx, instanceID, contact)
}

func (s *conversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instance_id, contact, contact_name, last_message_at, created_at
		 FROM conversations WHERE id = ?`, id.String())
	return scanConversation(row)
}

func (s *conversationStore) getByContact(ctx context.Context, instanceID uuid.UUID, contact string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instance_id, contact, contact_name, last_message_at, created_at
		 FROM conversations WHERE instance_id = ? AND contact = ?`, instanceID.String(), contact)
	return scanConversation(row)
}

func (s *conversationStore) TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`, ns(at), id.String())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var (
		c                 store.Conversation
		id, instance      string
		lastNS, createdNS int64
	)
	err := row.Scan(&id, &instance, &c.Contact, &c.ContactName, &lastNS, &createdNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("scan conversation id: %w", err)
	}
	if c.InstanceID, err = uuid.Parse(instance); err != nil {
		return nil, fmt.Errorf("scan conversation instance: %w", err)
	}
	c.LastMessageAt = fromNS(lastNS)
	c.CreatedAt = fromNS(createdNS)
	return &c, nil
}
