package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusWrite is one reconciliation write against an instance row.
// EventTime is when the underlying gateway event was observed; writes
// older than the row's last transition are rejected as stale.
//
// QRCode/QRExpiresAt must be set together and only with StatusQRReady;
// for every other status the store clears both fields. Force bypasses
// the staleness guard and is reserved for operator-initiated syncs.
type StatusWrite struct {
	Status      InstanceStatus
	QRCode      *string
	QRExpiresAt *time.Time
	EventTime   time.Time
	Force       bool
}

// ApplicableTo reports whether the write may land on a row currently in
// prev whose last transition happened at changedAt. Both store backends
// share these semantics: older events are rejected, and a connected
// instance is never pulled back into a pairing state by event traffic.
// Leaving connected takes a disconnect observation or a forced sync.
func (w StatusWrite) ApplicableTo(prev InstanceStatus, changedAt time.Time) bool {
	if w.Force {
		return true
	}
	if w.EventTime.Before(changedAt) {
		return false
	}
	if prev == StatusConnected && w.Status.Transient() {
		return false
	}
	return true
}

// Resolve computes the fields that actually land on the row, given the
// QR payload the row currently holds. A qr_ready write without a
// payload keeps the QR already on offer; when there is none the write
// lands as connecting instead, so the QR code is non-null exactly while
// the status is qr_ready.
func (w StatusWrite) Resolve(prevQR *string, prevExpiry *time.Time) (InstanceStatus, *string, *time.Time) {
	status, qr, expiry := w.Status, w.QRCode, w.QRExpiresAt
	if status == StatusQRReady && qr == nil {
		if prevQR != nil {
			qr, expiry = prevQR, prevExpiry
		} else {
			status = StatusConnecting
		}
	}
	if status != StatusQRReady {
		qr, expiry = nil, nil
	}
	return status, qr, expiry
}

// StatusResult reports the outcome of a conditional status write.
// NewStatus is the status that actually landed, which for a payload-less
// qr_ready write may differ from the one requested.
type StatusResult struct {
	Applied    bool
	PrevStatus InstanceStatus
	NewStatus  InstanceStatus
}

// InstanceStore persists bridge instance configs.
type InstanceStore interface {
	Create(ctx context.Context, inst *InstanceConfig) error
	Get(ctx context.Context, id uuid.UUID) (*InstanceConfig, error)
	GetByName(ctx context.Context, tenantID uuid.UUID, name string) (*InstanceConfig, error)
	// FindByName resolves an instance by its gateway name alone. Gateway
	// webhooks identify instances by name without tenant context.
	FindByName(ctx context.Context, name string) (*InstanceConfig, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]InstanceConfig, error)
	ListTransient(ctx context.Context) ([]InstanceConfig, error)
	ListAll(ctx context.Context) ([]InstanceConfig, error)
	// UpdateStatus applies w iff it is not stale relative to the row's
	// current transition. A rejected write returns Applied=false, nil error.
	UpdateStatus(ctx context.Context, id uuid.UUID, w StatusWrite) (StatusResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// BridgeConfigStore holds the administrator-managed gateway credentials.
type BridgeConfigStore interface {
	// GetActive returns the active global config, or ErrNotConfigured
	// when no active record exists.
	GetActive(ctx context.Context) (*BridgeConfig, error)
	Upsert(ctx context.Context, cfg *BridgeConfig) error
}

// BindingStore persists agent-to-instance bindings.
type BindingStore interface {
	Create(ctx context.Context, b *AgentBinding) error
	GetActiveByAgent(ctx context.Context, agentID uuid.UUID) (*AgentBinding, error)
	GetActiveByInstance(ctx context.Context, instanceID uuid.UUID) (*AgentBinding, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// ConversationStore persists conversations keyed by (instance, contact).
type ConversationStore interface {
	// FindOrCreate resolves the conversation for a contact, creating it
	// lazily. Concurrent calls for the same pair must converge on one row.
	FindOrCreate(ctx context.Context, instanceID uuid.UUID, contact, contactName string) (*Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	TouchLastMessage(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MessageStore persists relayed messages.
type MessageStore interface {
	// Insert stores a message. A duplicate external id returns
	// ErrDuplicate; ingestion treats that as an at-least-once redelivery.
	Insert(ctx context.Context, m *Message) error
	LastN(ctx context.Context, conversationID uuid.UUID, n int) ([]Message, error)
	MarkAutoResponded(ctx context.Context, id uuid.UUID) error
}

// InteractionStore records generation-pipeline invocations.
type InteractionStore interface {
	Insert(ctx context.Context, it *Interaction) error
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Instances     InstanceStore
	BridgeConfigs BridgeConfigStore
	Bindings      BindingStore
	Conversations ConversationStore
	Messages      MessageStore
	Interactions  InteractionStore
}
