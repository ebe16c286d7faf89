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

// PGBindingStore implements store.BindingStore backed by Postgres.
type PGBindingStore struct {
	db *sql.DB
}

func NewPGBindingStore(db *sql.DB) *PGBindingStore {
	return &PGBindingStore{db: db}
}

const bindingColumns = `id, agent_id, instance_id, model_name, system_prompt,
	auto_response, response_delay_seconds, active, created_at, updated_at`

func (s *PGBindingStore) Create(ctx context.Context, b *store.AgentBinding) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_bindings
		 (id, agent_id, instance_id, model_name, system_prompt,
		  auto_response, response_delay_seconds, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.AgentID, b.InstanceID, b.ModelName, b.SystemPrompt,
		b.AutoResponse, int(b.ResponseDelay.Seconds()), b.Active, now, now)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert binding: %w", err)
	}
	return nil
}

func (s *PGBindingStore) GetActiveByAgent(ctx context.Context, agentID uuid.UUID) (*store.AgentBinding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM agent_bindings
		 WHERE agent_id = $1 AND active ORDER BY created_at DESC LIMIT 1`, agentID)
	return scanBinding(row)
}

func (s *PGBindingStore) GetActiveByInstance(ctx context.Context, instanceID uuid.UUID) (*store.AgentBinding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM agent_bindings
		 WHERE instance_id = $1 AND active ORDER BY created_at DESC LIMIT 1`, instanceID)
	return scanBinding(row)
}

func (s *PGBindingStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_bindings SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanBinding(row rowScanner) (*store.AgentBinding, error) {
	var b store.AgentBinding
	var delaySec int
	err := row.Scan(&b.ID, &b.AgentID, &b.InstanceID, &b.ModelName, &b.SystemPrompt,
		&b.AutoResponse, &delaySec, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	b.ResponseDelay = time.Duration(delaySec) * time.Second
	return &b, nil
}
