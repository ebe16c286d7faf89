// Package orchestrator owns the public operations for provisioning bridge
// instances and initiating device pairing. It is the only writer of
// instance rows besides the reconciler, and it never mutates status
// outside the reconciler's conditional write path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/bridge"
	"github.com/nextlevelbuilder/chatbridge/internal/reconciler"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// Orchestrator coordinates the Config Store, the Bridge Client and the
// Status Reconciler for instance lifecycle operations.
type Orchestrator struct {
	stores     *store.Stores
	resolver   bridge.ClientResolver
	reconciler *reconciler.Reconciler
	webhookURL string // callback base advertised to the gateway

	now func() time.Time
}

func New(stores *store.Stores, resolver bridge.ClientResolver, rec *reconciler.Reconciler, webhookURL string) *Orchestrator {
	return &Orchestrator{
		stores:     stores,
		resolver:   resolver,
		reconciler: rec,
		webhookURL: webhookURL,
		now:        time.Now,
	}
}

// ProvisionInstance creates (or returns) the bridge instance bound to an
// agent. Safe to call repeatedly: an existing active binding short-
// circuits to its instance. The remaining check-then-create window is
// closed by the unique active-binding index; a duplicate there means
// another provisioner won the race, so fetch and return its result.
func (o *Orchestrator) ProvisionInstance(ctx context.Context, tenantID, agentID uuid.UUID, desiredName string) (*store.InstanceConfig, error) {
	// No active global credentials is a valid state that must stop
	// everything with a clear signal, before any remote call.
	if _, err := o.stores.BridgeConfigs.GetActive(ctx); err != nil {
		return nil, err
	}

	if binding, err := o.stores.Bindings.GetActiveByAgent(ctx, agentID); err == nil {
		inst, err := o.stores.Instances.Get(ctx, binding.InstanceID)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		// Binding points at a deleted instance; retire it and re-provision.
		if err := o.stores.Bindings.Deactivate(ctx, binding.ID); err != nil {
			slog.Warn("failed to retire orphaned binding", "binding", binding.ID, "error", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	name := desiredName
	if name == "" {
		name = generateInstanceName(agentID)
	}

	gw, err := o.resolver.Global(ctx)
	if err != nil {
		return nil, err
	}
	if err := gw.CreateInstance(ctx, name, o.webhookURL); err != nil {
		return nil, err
	}

	inst := &store.InstanceConfig{
		TenantID:   tenantID,
		Name:       name,
		Status:     store.StatusDisconnected,
		WebhookURL: o.webhookURL,
	}
	if err := o.stores.Instances.Create(ctx, inst); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Name collision within the tenant: another provisioner
			// created it concurrently. Adopt that row.
			existing, gerr := o.stores.Instances.GetByName(ctx, tenantID, name)
			if gerr != nil {
				return nil, gerr
			}
			inst = existing
		} else {
			return nil, err
		}
	}

	binding := &store.AgentBinding{
		AgentID:      agentID,
		InstanceID:   inst.ID,
		AutoResponse: true,
		Active:       true,
	}
	if err := o.stores.Bindings.Create(ctx, binding); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Already exists: treat the constraint violation as success.
			return inst, nil
		}
		return nil, err
	}

	slog.Info("instance provisioned",
		"tenant", tenantID, "agent", agentID, "instance", inst.Name)
	return inst, nil
}

// RequestPairing asks the gateway for a pairing QR. On success the QR is
// persisted with its validity window, status moves to qr_ready and the
// poll loop is ensured running. A nil QR with nil error means the
// gateway reports the instance already paired; status is left for the
// webhook path to confirm.
func (o *Orchestrator) RequestPairing(ctx context.Context, instanceID uuid.UUID) (*bridge.QRArtifact, error) {
	inst, err := o.stores.Instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	gw, err := o.resolver.For(ctx, inst)
	if err != nil {
		return nil, err
	}

	result, err := gw.Connect(ctx, inst.Name)
	if err != nil {
		return nil, err
	}
	if result.AlreadyOpen {
		return nil, nil
	}
	if result.QR == nil {
		// Gateway accepted the request but the QR arrives via webhook.
		if err := o.reconciler.ApplyConnectionState(ctx, instanceID, "connecting", o.now()); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := o.reconciler.ApplyQR(ctx, instanceID, result.QR.Base64, o.now()); err != nil {
		return nil, err
	}
	return result.QR, nil
}

// TeardownInstance removes the remote registration and the local record.
// Remote failures (already gone, gateway down) never block local
// cleanup, but the inconsistency is logged.
func (o *Orchestrator) TeardownInstance(ctx context.Context, instanceID uuid.UUID) error {
	inst, err := o.stores.Instances.Get(ctx, instanceID)
	if err != nil {
		return err
	}

	if gw, rerr := o.resolver.For(ctx, inst); rerr == nil {
		if err := gw.Logout(ctx, inst.Name); err != nil {
			slog.Warn("remote logout failed during teardown, continuing",
				"instance", inst.Name, "error", err)
		}
		if err := gw.Delete(ctx, inst.Name); err != nil {
			slog.Warn("remote delete failed during teardown, continuing",
				"instance", inst.Name, "error", err)
		}
	} else {
		slog.Warn("no gateway credentials during teardown, removing local record only",
			"instance", inst.Name, "error", rerr)
	}

	if binding, err := o.stores.Bindings.GetActiveByInstance(ctx, instanceID); err == nil {
		if err := o.stores.Bindings.Deactivate(ctx, binding.ID); err != nil {
			slog.Warn("failed to deactivate binding during teardown",
				"binding", binding.ID, "error", err)
		}
	}

	if err := o.stores.Instances.Delete(ctx, instanceID); err != nil {
		return fmt.Errorf("delete local instance: %w", err)
	}
	slog.Info("instance torn down", "instance", inst.Name)
	return nil
}

// Disconnect logs the paired device out without deleting the instance.
func (o *Orchestrator) Disconnect(ctx context.Context, instanceID uuid.UUID) error {
	inst, err := o.stores.Instances.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	gw, err := o.resolver.For(ctx, inst)
	if err != nil {
		return err
	}
	if err := gw.Logout(ctx, inst.Name); err != nil {
		return err
	}
	return o.reconciler.ApplyConnectionState(ctx, instanceID, "close", o.now())
}

// SendMessage relays an outbound text through the gateway and records it
// against the conversation.
func (o *Orchestrator) SendMessage(ctx context.Context, instanceID uuid.UUID, contact, text string) error {
	inst, err := o.stores.Instances.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	gw, err := o.resolver.For(ctx, inst)
	if err != nil {
		return err
	}
	if err := gw.SendText(ctx, inst.Name, contact, text); err != nil {
		return err
	}

	conv, err := o.stores.Conversations.FindOrCreate(ctx, instanceID, contact, "")
	if err != nil {
		return err
	}
	now := o.now().UTC()
	msg := &store.Message{
		ConversationID: conv.ID,
		InstanceID:     instanceID,
		ExternalID:     "out-" + uuid.Must(uuid.NewV7()).String(),
		Direction:      store.DirectionOutbound,
		Content:        text,
		MessageType:    "text",
		SentAt:         now,
	}
	if err := o.stores.Messages.Insert(ctx, msg); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return err
	}
	return o.stores.Conversations.TouchLastMessage(ctx, conv.ID, now)
}

// TestConnection verifies the active global credentials against the
// gateway without touching any instance.
func (o *Orchestrator) TestConnection(ctx context.Context) error {
	gw, err := o.resolver.Global(ctx)
	if err != nil {
		return err
	}
	return gw.Ping(ctx)
}

// InstanceView is an instance as reported to callers: QR expiry is
// client-observed, so an expired QR is never served as valid.
type InstanceView struct {
	ID          uuid.UUID            `json:"id"`
	TenantID    uuid.UUID            `json:"tenant_id"`
	Name        string               `json:"name"`
	Status      store.InstanceStatus `json:"status"`
	QRCode      *string              `json:"qr_code,omitempty"`
	QRExpiresAt *time.Time           `json:"qr_expires_at,omitempty"`
	QRExpired   bool                 `json:"qr_expired,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// View converts a stored instance, suppressing stale QR payloads.
func (o *Orchestrator) View(inst *store.InstanceConfig) InstanceView {
	v := InstanceView{
		ID:        inst.ID,
		TenantID:  inst.TenantID,
		Name:      inst.Name,
		Status:    inst.Status,
		CreatedAt: inst.CreatedAt,
		UpdatedAt: inst.UpdatedAt,
	}
	if inst.Status == store.StatusQRReady {
		if inst.QRValid(o.now()) {
			v.QRCode = inst.QRCode
			v.QRExpiresAt = inst.QRExpiresAt
		} else {
			// Stale QR: stop offering it, the caller must request a new one.
			v.QRExpired = true
		}
	}
	return v
}

// GetView loads one instance and renders its caller-facing view.
func (o *Orchestrator) GetView(ctx context.Context, instanceID uuid.UUID) (InstanceView, error) {
	inst, err := o.stores.Instances.Get(ctx, instanceID)
	if err != nil {
		return InstanceView{}, err
	}
	return o.View(inst), nil
}

// generateInstanceName builds a collision-resistant default name.
func generateInstanceName(agentID uuid.UUID) string {
	suffix := uuid.Must(uuid.NewV7()).String()[:8]
	return fmt.Sprintf("agent-%s-%s", agentID.String()[:8], suffix)
}
