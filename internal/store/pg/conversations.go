package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// PGConversationStore implements store.ConversationStore backed by Postgres.
type PGConversationStore struct {
	db *sql.DB
}

func NewPGConversationStore(db *sql.DB) *PGConversationStore {
	return &PGConversationStore{db: db}
}

// FindOrCreate resolves the conversation for (instance, contact).
// The insert races with concurrent ingests; ON CONFLICT DO NOTHING plus a
// re-read guarantees both callers land on the same row.
func (s *PGConversationStore) FindOrCreate(ctx context.Context, instanceID uuid.UUID, contact, contactName string) (*store.Conversation, error) {
	if conv, err := s.getByContact(ctx, instanceID, contact); err == nil {
		return conv, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.Must(uuid.NewV7())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, instance_id, contact, contact_name, last_message_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (instance_id, contact) DO NOTHING`,
		id, instanceID, contact, contactName, now)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	// Re-read unconditionally: on conflict another ingest created the row.
	return s.getByContact(ctx, instanceID, contact)
}

func (s *PGConversationStore) Get(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instance_id, contact, contact_name, last_message_at, created_at
		 FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (s *PGConversationStore) getByContact(ctx context.Context, instanceID uuid.UUID, contact string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instance_id, contact, contact_name, last_message_at, created_at
		 FROM conversations WHERE instance_id = $1 AND contact = $2`, instanceID, contact)
	return scanConversation(row)
}

func (s *PGConversationStore) TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var c store.Conversation
	err := row.Scan(&c.ID, &c.InstanceID, &c.Contact, &c.ContactName, &c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}
