package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

type interactionStore struct {
	db *sql.DB
}

func (s *interactionStore) Insert(ctx context.Context, it *store.Interaction) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.Must(uuid.NewV7())
	}
	it.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_interactions
		 (id, binding_id, conversation_id, model, prompt_tokens, completion_tokens, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID.String(), it.BindingID.String(), it.ConversationID.String(), it.Model,
		it.PromptTokens, it.CompletionTokens, it.LatencyMS, ns(it.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}
