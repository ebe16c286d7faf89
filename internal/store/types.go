package store

import (
	"time"

	"github.com/google/uuid"
)

// InstanceStatus is the lifecycle state of a bridge instance.
type InstanceStatus string

const (
	StatusDisconnected InstanceStatus = "disconnected"
	StatusConnecting   InstanceStatus = "connecting"
	StatusQRReady      InstanceStatus = "qr_ready"
	StatusConnected    InstanceStatus = "connected"
)

// Valid reports whether s is one of the known lifecycle states.
func (s InstanceStatus) Valid() bool {
	switch s {
	case StatusDisconnected, StatusConnecting, StatusQRReady, StatusConnected:
		return true
	}
	return false
}

// Transient reports whether an instance in this state is waiting on the
// gateway and should be covered by the poll loop.
func (s InstanceStatus) Transient() bool {
	return s == StatusConnecting || s == StatusQRReady
}

// QRValidity is how long an issued QR code is offered before a client
// must request a fresh one. Expiry is client-observed, not server-enforced.
const QRValidity = 120 * time.Second

// InstanceConfig is one provisioned bridge channel.
//
// Status and QR fields are mutually consistent: QRCode is non-nil only
// while Status is qr_ready. StatusChangedAt is the staleness guard for
// the two reconciliation writers; every status write is conditioned on it.
type InstanceConfig struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Name            string
	Status          InstanceStatus
	QRCode          *string
	QRExpiresAt     *time.Time
	WebhookURL      string
	APIURL          string // per-tenant gateway override, empty = use global
	APIKey          string
	StatusChangedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// QRValid reports whether the stored QR code is still offerable at t.
func (i *InstanceConfig) QRValid(t time.Time) bool {
	return i.Status == StatusQRReady && i.QRCode != nil &&
		i.QRExpiresAt != nil && t.Before(*i.QRExpiresAt)
}

// BridgeConfig is the administrator-managed global gateway credential set.
type BridgeConfig struct {
	ID        uuid.UUID
	APIURL    string
	APIKey    string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentBinding links an internal agent to exactly one instance, plus the
// model parameters used when generating automated responses.
type AgentBinding struct {
	ID            uuid.UUID
	AgentID       uuid.UUID
	InstanceID    uuid.UUID
	ModelName     string
	SystemPrompt  string
	AutoResponse  bool
	ResponseDelay time.Duration
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Conversation is identified by (instance, normalized contact address).
type Conversation struct {
	ID            uuid.UUID
	InstanceID    uuid.UUID
	Contact       string
	ContactName   string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// MessageDirection distinguishes relayed inbound from outbound traffic.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Message is one relayed message. Immutable once created; ExternalID is
// the gateway-supplied id used for at-least-once de-duplication.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	InstanceID     uuid.UUID
	ExternalID     string
	Direction      MessageDirection
	Content        string
	MessageType    string // "text", "audio"
	AutoResponded  bool
	SentAt         time.Time
	CreatedAt      time.Time
}

// Interaction is one generation-pipeline invocation: model, token usage
// and wall-clock latency around the single provider call.
type Interaction struct {
	ID               uuid.UUID
	BindingID        uuid.UUID
	ConversationID   uuid.UUID
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int
	CreatedAt        time.Time
}
