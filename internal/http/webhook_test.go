package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// postWebhook delivers a raw payload to the unauthenticated webhook.
func postWebhook(t *testing.T, f *serverFixture, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

// TestWebhook_PreflightHealthCheck verifies the gateway's OPTIONS
// health check gets an open CORS answer.
func TestWebhook_PreflightHealthCheck(t *testing.T) {
	f := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodOptions, "/webhook", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

// TestWebhook_MalformedPayload verifies undecodable bodies report a
// processing failure so the gateway retries.
func TestWebhook_MalformedPayload(t *testing.T) {
	f := newTestServer(t, true)
	rr := postWebhook(t, f, `{"event": broken`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] == "" || body["details"] == "" {
		t.Fatalf("error body = %v", body)
	}
}

// TestWebhook_UnknownEventAcknowledged verifies unrecognized event names
// are acknowledged without side effects.
func TestWebhook_UnknownEventAcknowledged(t *testing.T) {
	f := newTestServer(t, true)
	rr := postWebhook(t, f, `{"event":"presence.update","instance":"whatever","data":{}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]bool
	json.Unmarshal(rr.Body.Bytes(), &body)
	if !body["success"] {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

// TestWebhook_UntrackedInstanceAcknowledged verifies events for
// instances this service does not track are acknowledged, not retried.
func TestWebhook_UntrackedInstanceAcknowledged(t *testing.T) {
	f := newTestServer(t, true)
	rr := postWebhook(t, f, `{"event":"connection.update","instance":"ghost","data":{"state":"open"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

// TestWebhook_ConnectionUpdate verifies a connection state push moves
// the instance status.
func TestWebhook_ConnectionUpdate(t *testing.T) {
	f := newTestServer(t, true)
	inst := f.seedInstance(t, "agent-wh-1")

	rr := postWebhook(t, f, `{"event":"connection.update","instance":"agent-wh-1","data":{"state":"open"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	got, err := f.stores.Instances.Get(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if got.Status != store.StatusConnected {
		t.Fatalf("status = %s, want connected", got.Status)
	}
}

// TestWebhook_QRCodeUpdated verifies both event name casings persist the
// QR artifact and move status to qr_ready.
func TestWebhook_QRCodeUpdated(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"dotted lowercase", `{"event":"qrcode.updated","instance":"agent-wh-2","data":{"qrcode":{"base64":"B64-DATA"}}}`},
		{"underscore uppercase", `{"event":"QRCODE_UPDATED","instance":"agent-wh-2","data":{"qrcode":{"code":"RAW-CODE"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestServer(t, true)
			inst := f.seedInstance(t, "agent-wh-2")

			rr := postWebhook(t, f, tc.payload)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
			}

			got, err := f.stores.Instances.Get(context.Background(), inst.ID)
			if err != nil {
				t.Fatalf("get instance: %v", err)
			}
			if got.Status != store.StatusQRReady || got.QRCode == nil {
				t.Fatalf("status = %s, qr = %v", got.Status, got.QRCode)
			}
		})
	}
}

// TestWebhook_QRCodeWithoutPayload verifies a QR event carrying neither
// artifact form is dropped with an ack: redelivering it would fail the
// same way, so the gateway must not retry.
func TestWebhook_QRCodeWithoutPayload(t *testing.T) {
	f := newTestServer(t, true)
	inst := f.seedInstance(t, "agent-wh-3")

	rr := postWebhook(t, f, `{"event":"qrcode.updated","instance":"agent-wh-3","data":{"qrcode":{}}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]bool
	json.Unmarshal(rr.Body.Bytes(), &body)
	if !body["success"] {
		t.Fatalf("body = %s", rr.Body.String())
	}

	got, err := f.stores.Instances.Get(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if got.Status != store.StatusDisconnected || got.QRCode != nil {
		t.Fatalf("status = %s, qr = %v, want untouched instance", got.Status, got.QRCode)
	}
}

// TestWebhook_MessageWithoutRoutingKeyDropped verifies a relayed message
// missing its remote routing key is acknowledged and discarded rather
// than bounced back into the gateway's redelivery queue.
func TestWebhook_MessageWithoutRoutingKeyDropped(t *testing.T) {
	f := newTestServer(t, true)
	f.seedInstance(t, "agent-wh-5")

	rr := postWebhook(t, f, `{
		"event": "messages.upsert",
		"instance": "agent-wh-5",
		"data": {
			"key": {"remoteJid": "", "fromMe": false, "id": "EXT-DROP"},
			"message": {"conversation": "orphaned"},
			"messageTimestamp": 1735689600
		}
	}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var body map[string]bool
	json.Unmarshal(rr.Body.Bytes(), &body)
	if !body["success"] {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

// TestWebhook_MessagesUpsert verifies a relayed message lands as a
// conversation plus message row.
func TestWebhook_MessagesUpsert(t *testing.T) {
	f := newTestServer(t, true)
	inst := f.seedInstance(t, "agent-wh-4")

	rr := postWebhook(t, f, `{
		"event": "messages.upsert",
		"instance": "agent-wh-4",
		"data": {
			"key": {"remoteJid": "5511988887777@s.whatsapp.net", "fromMe": false, "id": "EXT-1"},
			"pushName": "Maria",
			"message": {"conversation": "hello there"},
			"messageTimestamp": 1735689600
		}
	}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	conv, err := f.stores.Conversations.FindOrCreate(context.Background(), inst.ID, "5511988887777", "")
	if err != nil {
		t.Fatalf("find conversation: %v", err)
	}
	msgs, err := f.stores.Messages.LastN(context.Background(), conv.ID, 10)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ExternalID != "EXT-1" || msgs[0].Content != "hello there" {
		t.Fatalf("messages = %+v", msgs)
	}
}
