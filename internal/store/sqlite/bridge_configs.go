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

type bridgeConfigStore struct {
	db *sql.DB
}

func (s *bridgeConfigStore) GetActive(ctx context.Context) (*store.BridgeConfig, error) {
	var (
		cfg                  store.BridgeConfig
		id                   string
		createdNS, updatedNS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, api_url, api_key, active, created_at, updated_at
		 FROM bridge_configs WHERE active ORDER BY updated_at DESC LIMIT 1`).
		Scan(&id, &cfg.APIURL, &cfg.APIKey, &cfg.Active, &createdNS, &updatedNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("get active bridge config: %w", err)
	}
	if cfg.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("scan bridge config id: %w", err)
	}
	cfg.CreatedAt = fromNS(createdNS)
	cfg.UpdatedAt = fromNS(updatedNS)
	return &cfg, nil
}

func (s *bridgeConfigStore) Upsert(ctx context.Context, cfg *store.BridgeConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bridge_configs (id, api_url, api_key, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET api_url = excluded.api_url, api_key = excluded.api_key,
		     active = excluded.active, updated_at = excluded.updated_at`,
		cfg.ID.String(), cfg.APIURL, cfg.APIKey, cfg.Active, ns(now), ns(now))
	if err != nil {
		return fmt.Errorf("upsert bridge config: %w", err)
	}
	return nil
}
