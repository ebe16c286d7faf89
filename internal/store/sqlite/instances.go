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

type instanceStore struct {
	db *sql.DB
}

const instanceColumns = `id, tenant_id, name, status, qr_code, qr_expires_at,
	webhook_url, api_url, api_key, status_changed_at, created_at, updated_at`

func (s *instanceStore) Create(ctx context.Context, inst *store.InstanceConfig) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID.String(), inst.TenantID.String(), inst.Name, string(inst.Status),
		inst.QRCode, nsPtr(inst.QRExpiresAt), inst.WebhookURL, inst.APIURL,
		inst.APIKey, ns(inst.StatusChangedAt), ns(now), ns(now))
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

func (s *instanceStore) Get(ctx context.Context, id uuid.UUID) (*store.InstanceConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs WHERE id = ?`, id.String())
	return scanInstance(row)
}

func (s *instanceStore) GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*store.InstanceConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs WHERE tenant_id = ? AND name = ?`,
		tenantID.String(), name)
	return scanInstance(row)
}

func (s *instanceStore) FindByName(ctx context.Context, name string) (*store.InstanceConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs WHERE name = ?`, name)
	return scanInstance(row)
}

func (s *instanceStore) List(ctx context.Context, tenantID uuid.UUID) ([]store.InstanceConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs WHERE tenant_id = ? ORDER BY created_at`,
		tenantID.String())
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return scanInstances(rows)
}

func (s *instanceStore) ListTransient(ctx context.Context) ([]store.InstanceConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs
		 WHERE status IN ('connecting', 'qr_ready') ORDER BY status_changed_at`)
	if err != nil {
		return nil, fmt.Errorf("list transient instances: %w", err)
	}
	return scanInstances(rows)
}

func (s *instanceStore) ListAll(ctx context.Context) ([]store.InstanceConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instance_configs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list all instances: %w", err)
	}
	return scanInstances(rows)
}

// UpdateStatus applies a reconciliation write inside a transaction.
// Guard and QR resolution come from store.StatusWrite, so the three
// backends cannot drift apart.
func (s *instanceStore) UpdateStatus(ctx context.Context, id uuid.UUID, w store.StatusWrite) (store.StatusResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.StatusResult{}, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var (
		prev       string
		changedNS  int64
		prevQR     *string
		prevExpiry sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, status_changed_at, qr_code, qr_expires_at
		 FROM instance_configs WHERE id = ?`, id.String()).
		Scan(&prev, &changedNS, &prevQR, &prevExpiry)
	if errors.Is(err, sql.ErrNoRows) {
		return store.StatusResult{}, store.ErrNotFound
	}
	if err != nil {
		return store.StatusResult{}, fmt.Errorf("read instance row: %w", err)
	}

	prevStatus := store.InstanceStatus(prev)
	if !w.ApplicableTo(prevStatus, fromNS(changedNS)) {
		return store.StatusResult{Applied: false, PrevStatus: prevStatus, NewStatus: prevStatus}, nil
	}

	status, qr, qrExp := w.Resolve(prevQR, fromNSPtr(prevExpiry))

	_, err = tx.ExecContext(ctx,
		`UPDATE instance_configs
		 SET status = ?, qr_code = ?, qr_expires_at = ?,
		     status_changed_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(status), qr, nsPtr(qrExp), ns(w.EventTime), ns(time.Now()), id.String())
	if err != nil {
		return store.StatusResult{}, fmt.Errorf("update instance status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return store.StatusResult{}, fmt.Errorf("commit status update: %w", err)
	}
	return store.StatusResult{Applied: true, PrevStatus: prevStatus, NewStatus: status}, nil
}

func (s *instanceStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instance_configs WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanInstance(row rowScanner) (*store.InstanceConfig, error) {
	var (
		inst               store.InstanceConfig
		id, tenant, status string
		qrExpiry           sql.NullInt64
		changedNS          int64
		createdNS          int64
		updatedNS          int64
	)
	err := row.Scan(&id, &tenant, &inst.Name, &status, &inst.QRCode, &qrExpiry,
		&inst.WebhookURL, &inst.APIURL, &inst.APIKey, &changedNS, &createdNS, &updatedNS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	if inst.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("scan instance id: %w", err)
	}
	if inst.TenantID, err = uuid.Parse(tenant); err != nil {
		return nil, fmt.Errorf("scan instance tenant: %w", err)
	}
	inst.Status = store.InstanceStatus(status)
	inst.QRExpiresAt = fromNSPtr(qrExpiry)
	inst.StatusChangedAt = fromNS(changedNS)
	inst.CreatedAt = fromNS(createdNS)
	inst.UpdatedAt = fromNS(updatedNS)
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
