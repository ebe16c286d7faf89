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

type bindingStore struct {
	db *sql.DB
}

const bindingColumns = `id, agent_id, instance_id, model_name, system_prompt,
	auto_response, response_delay_seconds, active, created_at, updated_at`

func (s *bindingStore) Create(ctx context.Context, b *store.AgentBinding) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.AgentID.String(), b.InstanceID.String(), b.ModelName, b.SystemPrompt,
		b.AutoResponse, int(b.ResponseDelay.Seconds()), b.Active, ns(now), ns(now))
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert binding: %w", err)
	}
	return nil
}

func (s *bindingStore) GetActiveByAgent(ctx context.Context, agentID uuid.UUID) (*store.AgentBinding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM agent_bindings
		 WHERE agent_id = ? AND active ORDER BY created_at DESC LIMIT 1`, agentID.String())
	return scanBinding(row)
}

func (s *bindingStore) GetActiveByInstance(ctx context.Context, instanceID uuid.UUID) (*store.AgentBinding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM agent_bindings
		 WHERE instance_id = ? AND active ORDER BY created_at DESC LIMIT 1`, instanceID.String())
	return scanBinding(row)
}

func (s *bindingStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_bindings SET active = 0, updated_at = ? WHERE id = ?`,
		ns(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("deactivate binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanBinding(row rowScanner) (*store.AgentBinding, error) {
	var (
		b                    store.AgentBinding
		id, agent, instance  string
		delaySec             int
		createdNS, updatedNS int64
	)
	err := row.Scan(&id, &agent, &instance, &b.ModelName, &b.SystemPrompt,
		&b.AutoResponse, &delaySec, &b.Active, &createdNS, &updatedNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("scan binding id: %w", err)
	}
	if b.AgentID, err = uuid.Parse(agent); err != nil {
		return nil, fmt.Errorf("scan binding agent: %w", err)
	}
	if b.InstanceID, err = uuid.Parse(instance); err != nil {
		return nil, fmt.Errorf("scan binding instance: %w", err)
	}
	b.ResponseDelay = time.Duration(delaySec) * time.Second
	b.CreatedAt = fromNS(createdNS)
	b.UpdatedAt = fromNS(updatedNS)
	return &b, nil
}
