package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// PGInteractionStore implements store.InteractionStore backed by Postgres.
type PGInteractionStore struct {
	db *sql.DB
}

func NewPGInteractionStore(db *sql.DB) *PGInteractionStore {
	return &PGInteractionStore{db: db}
}

func (s *PGInteractionStore) Insert(ctx context.Context, it *store.Interaction) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.Must(uuid.NewV7())
	}
	it.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_interactions
		 (id, binding_id, conversation_id, model, prompt_tokens, completion_tokens, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		it.ID, it.BindingID, it.ConversationID, it.Model,
		it.PromptTokens, it.CompletionTokens, it.LatencyMS, it.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}
