// Package reconciler converges the persisted instance status with the
// gateway's view through two independent writers: the push path (webhook
// events) and the pull path (a lazily running poll loop). Both funnel
// into the same conditional store write, so neither needs to know about
// the other.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/bridge"
	"github.com/nextlevelbuilder/chatbridge/internal/events"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
	"github.com/nextlevelbuilder/chatbridge/pkg/protocol"
)

// Reconciler owns every status write against instance rows. UI-layer
// code never mutates instance status directly.
type Reconciler struct {
	instances store.InstanceStore
	resolver  bridge.ClientResolver
	hub       *events.Hub
	poller    *Poller

	now func() time.Time
}

func New(instances store.InstanceStore, resolver bridge.ClientResolver, hub *events.Hub) *Reconciler {
	r := &Reconciler{
		instances: instances,
		resolver:  resolver,
		hub:       hub,
		now:       time.Now,
	}
	r.poller = newPoller(r)
	return r
}

// Poller returns the pull-path supervisor for lifecycle wiring.
func (r *Reconciler) Poller() *Poller { return r.poller }

// MapGatewayState translates an external state token into the local
// lifecycle status. ok is false for unrecognized tokens, which are
// logged and ignored with no state change. The "connecting" and "qr"
// tokens carry no QR payload; the store resolves such a write against
// the QR the row already holds (see store.StatusWrite.Resolve).
func MapGatewayState(token string) (store.InstanceStatus, bool) {
	switch strings.ToLower(token) {
	case "open", "connected":
		return store.StatusConnected, true
	case "connecting", "qr":
		return store.StatusQRReady, true
	case "close", "closed", "disconnected":
		return store.StatusDisconnected, true
	}
	return "", false
}

// ApplyConnectionState handles a connection.update observation from
// either path. Stale writes are discarded silently; a transition into
// connected clears QR fields and notifies subscribers exactly once.
// A connected instance ignores pairing-state tokens entirely, since the
// gateway's event delivery can reorder a QR burst behind the open.
func (r *Reconciler) ApplyConnectionState(ctx context.Context, instanceID uuid.UUID, token string, eventTime time.Time) error {
	return r.applyState(ctx, instanceID, token, eventTime, false)
}

func (r *Reconciler) applyState(ctx context.Context, instanceID uuid.UUID, token string, eventTime time.Time, force bool) error {
	status, ok := MapGatewayState(token)
	if !ok {
		slog.Warn("unrecognized gateway state token, ignoring",
			"instance", instanceID, "state", token)
		return nil
	}

	res, err := r.instances.UpdateStatus(ctx, instanceID, store.StatusWrite{
		Status:    status,
		EventTime: eventTime,
		Force:     force,
	})
	if err != nil {
		return fmt.Errorf("apply connection state: %w", err)
	}
	if !res.Applied {
		slog.Debug("stale status write discarded",
			"instance", instanceID, "status", status, "current", res.PrevStatus)
		return nil
	}

	slog.Info("instance status reconciled",
		"instance", instanceID, "from", res.PrevStatus, "to", res.NewStatus)
	r.notifyTransition(instanceID, res.PrevStatus, res.NewStatus)

	if res.NewStatus.Transient() {
		r.poller.Poke()
	}
	return nil
}

// ApplyQR persists a fresh QR payload with its validity window and
// forces status to qr_ready. Any previously outstanding QR for the
// instance is replaced by this write.
func (r *Reconciler) ApplyQR(ctx context.Context, instanceID uuid.UUID, qrBase64 string, eventTime time.Time) error {
	expires := eventTime.Add(store.QRValidity)
	res, err := r.instances.UpdateStatus(ctx, instanceID, store.StatusWrite{
		Status:      store.StatusQRReady,
		QRCode:      &qrBase64,
		QRExpiresAt: &expires,
		EventTime:   eventTime,
	})
	if err != nil {
		return fmt.Errorf("apply qr update: %w", err)
	}
	if !res.Applied {
		slog.Debug("stale qr write discarded", "instance", instanceID, "current", res.PrevStatus)
		return nil
	}

	r.hub.Publish(protocol.NewEvent(protocol.EventInstanceQR, map[string]any{
		"instance_id": instanceID.String(),
		"expires_at":  expires.UTC().Format(time.RFC3339),
	}))
	r.poller.Poke()
	return nil
}

// ForceSync synchronously queries the gateway and writes the result,
// bypassing the transient-state filter. Escape hatch for when polling
// missed a transition.
func (r *Reconciler) ForceSync(ctx context.Context, instanceID uuid.UUID) (store.InstanceStatus, error) {
	inst, err := r.instances.Get(ctx, instanceID)
	if err != nil {
		return "", err
	}
	gw, err := r.resolver.For(ctx, inst)
	if err != nil {
		return "", err
	}
	state, err := gw.State(ctx, inst.Name)
	if err != nil {
		return "", err
	}

	// Forced: the operator asked for the gateway's truth, so the write
	// bypasses the guard that protects connected from event reordering.
	if err := r.applyState(ctx, instanceID, state.State, r.now(), true); err != nil {
		return "", err
	}

	refreshed, err := r.instances.Get(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return refreshed.Status, nil
}

// notifyTransition publishes user-visible notifications. The conditional
// store write already guaranteed this transition happened exactly once,
// so publishing here cannot double-fire.
func (r *Reconciler) notifyTransition(instanceID uuid.UUID, from, to store.InstanceStatus) {
	switch {
	case to == store.StatusConnected && from != store.StatusConnected:
		r.hub.Publish(protocol.NewEvent(protocol.EventInstanceConnected, map[string]any{
			"instance_id": instanceID.String(),
		}))
	case to == store.StatusDisconnected && from == store.StatusConnected:
		r.hub.Publish(protocol.NewEvent(protocol.EventInstanceDisconnected, map[string]any{
			"instance_id": instanceID.String(),
		}))
	}
}
