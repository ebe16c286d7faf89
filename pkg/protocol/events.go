// Package protocol defines the wire frames pushed to UI clients over the
// WebSocket event feed.
package protocol

// Event names on the WS feed.
const (
	EventInstanceConnected    = "instance.connected"
	EventInstanceDisconnected = "instance.disconnected"
	EventInstanceQR           = "instance.qr"
)

// EventFrame is one pushed notification.
type EventFrame struct {
	Type    string         `json:"type"` // always "event"
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event frame.
func NewEvent(event string, payload map[string]any) EventFrame {
	return EventFrame{Type: "event", Event: event, Payload: payload}
}
