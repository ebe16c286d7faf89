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

// PGBridgeConfigStore implements store.BridgeConfigStore backed by Postgres.
type PGBridgeConfigStore struct {
	db *sql.DB
}

func NewPGBridgeConfigStore(db *sql.DB) *PGBridgeConfigStore {
	return &PGBridgeConfigStore{db: db}
}

func (s *PGBridgeConfigStore) GetActive(ctx context.Context) (*store.BridgeConfig, error) {
	var cfg store.BridgeConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT id, api_url, api_key, active, created_at, updated_at
		 FROM bridge_configs WHERE active ORDER BY updated_at DESC LIMIT 1`).
		Scan(&cfg.ID, &cfg.APIURL, &cfg.APIKey, &cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("get active bridge config: %w", err)
	}
	return &cfg, nil
}

func (s *PGBridgeConfigStore) Upsert(ctx context.Context, cfg *store.BridgeConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bridge_configs (id, api_url, api_key, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET api_url = EXCLUDED.api_url, api_key = EXCLUDED.api_key,
		     active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
		cfg.ID, cfg.APIURL, cfg.APIKey, cfg.Active, now)
	if err != nil {
		return fmt.Errorf("upsert bridge config: %w", err)
	}
	return nil
}
