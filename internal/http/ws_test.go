package http

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/chatbridge/pkg/protocol"
)

// TestEvents_StreamsFrames verifies a WS client authenticated via query
// parameter receives published lifecycle events.
func TestEvents_StreamsFrames(t *testing.T) {
	f := newTestServer(t, true)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?access_token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to register its hub subscription.
	time.Sleep(100 * time.Millisecond)

	f.hub.Publish(protocol.NewEvent(protocol.EventInstanceConnected, map[string]any{
		"instance_id": "abc",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame protocol.EventFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != "event" || frame.Event != protocol.EventInstanceConnected {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.Payload["instance_id"] != "abc" {
		t.Fatalf("payload = %v", frame.Payload)
	}
}

// TestEvents_RejectsBadToken verifies the upgrade is gated by auth.
func TestEvents_RejectsBadToken(t *testing.T) {
	f := newTestServer(t, true)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?access_token=wrong"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial succeeded with a bad token")
	}
}
