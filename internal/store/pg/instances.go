package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// PGInstanceStore implements store.InstanceStore backed by Postgres.
type PGInstanceStore struct {
	db *sql.DB
}

func NewPGInstanceStore(db *sql.DB) *PGInstanceStore {
	return &PGInstanceStore{db: db}
}

const instanceColumns = `id, tenant_id, name, status, qr_code, qr_expires_at,
	webhook_url, api_url, api_key, status_changed_at, created_at, updated_at`

func (s *PGInstanceStore) Create(ctx context.Context, inst *store.InstanceConfig) error {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	inst.StatusChangedAt = now
	if inst.Status == "" {
		inst.Status = store.StatusDisconnected
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instance_configs
		 (id, tenant_id, name, status, qr_code, qr_expires_at, webhook_url,
		  api_url, api_key, status_changed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inst.ID, inst.TenantID, inst.Name, inst.Status, inst.QRCode, inst.QRExpiresAt,
		inst.WebhookURL, inst.APIURL, inst.APIKey, inst.StatusChangedAt, now, now)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

func (s *PGInstanceStore) Get(ctx context.Context, id uuid.UUID) (*store.InstanceConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs WHERE id = $1`, id)
	return scanInstance(row)
}

func (s *PGInstanceStore) GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*store.InstanceConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs WHERE tenant_id = $1 AND name = $2`,
		tenantID, name)
	return scanInstance(row)
}

func (s *PGInstanceStore) FindByName(ctx context.Context, name string) (*store.InstanceConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs WHERE name = $1`, name)
	return scanInstance(row)
}

func (s *PGInstanceStore) List(ctx context.Context, tenantID uuid.UUID) ([]store.InstanceConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return scanInstances(rows)
}

func (s *PGInstanceStore) ListTransient(ctx context.Context) ([]store.InstanceConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs
		 WHERE status IN ('connecting', 'qr_ready') ORDER BY status_changed_at`)
	if err != nil {
		return nil, fmt.Errorf("list transient instances: %w", err)
	}
	return scanInstances(rows)
}

func (s *PGInstanceStore) ListAll(ctx context.Context) ([]store.InstanceConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list all instances: %w", err)
	}
	return scanInstances(rows)
}

// UpdateStatus applies a reconciliation write under a row lock so the
// push and pull paths can run concurrently without coordination.
//
// A write is rejected (Applied=false, nil error) when it is older than
// the row's last transition, or when it would pull a connected instance
// back into a pairing state; the guard and the QR resolution live on
// store.StatusWrite so the in-memory store behaves identically.
func (s *PGInstanceStore) UpdateStatus(ctx context.Context, id uuid.UUID, w store.StatusWrite) (store.StatusResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.StatusResult{}, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var prev store.InstanceStatus
	var changedAt time.Time
	var prevQR *string
	var prevExpiry *time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT status, status_changed_at, qr_code, qr_expires_at
		 FROM instance_configs WHERE id = $1 FOR UPDATE`,
		id).Scan(&prev, &changedAt, &prevQR, &prevExpiry)
	if errors.Is(err, sql.ErrNoRows) {
		return store.StatusResult{}, store.ErrNotFound
	}
	if err != nil {
		return store.StatusResult{}, fmt.Errorf("lock instance row: %w", err)
	}

	if !w.ApplicableTo(prev, changedAt) {
		return store.StatusResult{Applied: false, PrevStatus: prev, NewStatus: prev}, nil
	}

	status, qr, qrExp := w.Resolve(prevQR, prevExpiry)

	_, err = tx.ExecContext(ctx,
		`UPDATE instance_configs
		 SET status = $2, qr_code = $3, qr_expires_at = $4,
		     status_changed_at = $5, updated_at = now()
		 WHERE id = $1`,
		id, status, qr, qrExp, w.EventTime.UTC())
	if err != nil {
		return store.StatusResult{}, fmt.Errorf("update instance status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return store.StatusResult{}, fmt.Errorf("commit status update: %w", err)
	}
	return store.StatusResult{Applied: true, PrevStatus: prev, NewStatus: status}, nil
}

func (s *PGInstanceStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instance_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*store.InstanceConfig, error) {
	var inst store.InstanceConfig
	err := row.Scan(&inst.ID, &inst.TenantID, &inst.Name, &inst.Status,
		&inst.QRCode, &inst.QRExpiresAt, &inst.WebhookURL, &inst.APIURL,
		&inst.APIKey, &inst.StatusChangedAt, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	return &inst, nil
}

func scanInstances(rows *sql.Rows) ([]store.InstanceConfig, error) {
	defer rows.Close()
	var result []store.InstanceConfig
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inst)
	}
	return result, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
