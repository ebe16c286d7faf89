package bridge

import (
	"encoding/json"
	"strings"
	"time"
)

// Webhook event names as the gateway sends them. Both spellings appear in
// the wild depending on the gateway version.
const (
	EventConnectionUpdate = "connection.update"
	EventQRCodeUpdated    = "qrcode.updated"
	EventMessagesUpsert   = "messages.upsert"
)

// EventKind is the normalized discriminator for a webhook payload.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindConnectionUpdate
	KindQRCodeUpdated
	KindMessagesUpsert
)

// WebhookEvent is the envelope posted by the gateway. Data is decoded
// lazily per event kind because field names vary by event and version.
type WebhookEvent struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// Kind normalizes the event discriminator. Unknown events map to
// KindUnknown and must be acknowledged without side effects.
func (e *WebhookEvent) Kind() EventKind {
	switch strings.ToLower(e.Event) {
	case EventConnectionUpdate, "connection_update":
		return KindConnectionUpdate
	case EventQRCodeUpdated, "qrcode_updated":
		return KindQRCodeUpdated
	case EventMessagesUpsert, "messages_upsert":
		return KindMessagesUpsert
	}
	return KindUnknown
}

// ConnectionUpdateData carries the gateway's connection state token.
type ConnectionUpdateData struct {
	State string `json:"state"`
}

// QRCodeUpdatedData carries a freshly issued QR artifact.
type QRCodeUpdatedData struct {
	QRCode struct {
		Base64 string `json:"base64"`
		Code   string `json:"code"`
	} `json:"qrcode"`
}

// MessageUpsertData is one relayed message event.
type MessageUpsertData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string      `json:"pushName"`
	Message          MessageBody `json:"message"`
	MessageTimestamp int64       `json:"messageTimestamp"`
}

// MessageBody holds the per-type content variants the gateway relays.
type MessageBody struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	AudioMessage *struct {
		URL      string `json:"url"`
		MimeType string `json:"mimetype"`
		Seconds  int    `json:"seconds"`
	} `json:"audioMessage"`
}

// Text extracts the message text, whichever variant carries it.
func (b *MessageBody) Text() string {
	if b.Conversation != "" {
		return b.Conversation
	}
	if b.ExtendedTextMessage != nil {
		return b.ExtendedTextMessage.Text
	}
	return ""
}

// SentAt converts the gateway's unix timestamp, falling back to now for
// events that omit it.
func (m *MessageUpsertData) SentAt() time.Time {
	if m.MessageTimestamp > 0 {
		return time.Unix(m.MessageTimestamp, 0).UTC()
	}
	return time.Now().UTC()
}

// IsOpenState reports whether a gateway state token means "paired".
func IsOpenState(state string) bool {
	switch strings.ToLower(state) {
	case "open", "connected":
		return true
	}
	return false
}
