package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient points a client at the test server with retries sped up.
func newTestClient(url string) *Client {
	c := New(url, "gw-key")
	c.backoff = time.Millisecond
	return c
}

// TestCreateInstance_RequestShape verifies the registration body and the
// apikey header.
func TestCreateInstance_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/instance/create" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("apikey"); got != "gw-key" {
			t.Errorf("apikey = %q", got)
		}
		var body struct {
			InstanceName string `json:"instanceName"`
			QRCode       bool   `json:"qrcode"`
			Webhook      *struct {
				URL    string   `json:"url"`
				Events []string `json:"events"`
			} `json:"webhook"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.InstanceName != "agent-cli-1" || !body.QRCode {
			t.Errorf("body = %+v", body)
		}
		if body.Webhook == nil || body.Webhook.URL != "https://svc.test/webhook" || len(body.Webhook.Events) != 3 {
			t.Errorf("webhook = %+v", body.Webhook)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.CreateInstance(context.Background(), "agent-cli-1", "https://svc.test/webhook"); err != nil {
		t.Fatalf("create: %v", err)
	}
}

// TestConnect_QRArtifact verifies a QR response parses into the artifact
// form.
func TestConnect_QRArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instance/connect/agent-cli-2" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"base64":"data:image/png;base64,AAA","code":"2@abc"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Connect(context.Background(), "agent-cli-2")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if result.QR == nil || result.QR.Base64 != "data:image/png;base64,AAA" || result.AlreadyOpen {
		t.Fatalf("result = %+v", result)
	}
}

// TestConnect_AlreadyOpen verifies the paired-device response form.
func TestConnect_AlreadyOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"instance":{"state":"open"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Connect(context.Background(), "agent-cli-3")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !result.AlreadyOpen || result.QR != nil {
		t.Fatalf("result = %+v", result)
	}
}

// TestConnect_RetriesOnFailure verifies the bounded retry loop recovers
// from transient gateway errors.
func TestConnect_RetriesOnFailure(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "gateway busy", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"base64":"B64"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Connect(context.Background(), "agent-cli-4")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if result.QR == nil || result.QR.Base64 != "B64" || attempts != 3 {
		t.Fatalf("result = %+v, attempts = %d", result, attempts)
	}
}

// TestConnect_ExhaustsRetries verifies the last failure surfaces wrapped
// in ErrUnavailable.
func TestConnect_ExhaustsRetries(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Connect(context.Background(), "agent-cli-5")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if attempts != connectAttempts {
		t.Fatalf("attempts = %d, want %d", attempts, connectAttempts)
	}
}

// TestState verifies the status endpoint and envelope decoding.
func TestState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/instance/connectionState/agent-cli-6" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"instance":{"instanceName":"agent-cli-6","state":"open"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	state, err := c.State(context.Background(), "agent-cli-6")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Instance != "agent-cli-6" || state.State != "open" {
		t.Fatalf("state = %+v", state)
	}
}

// TestLogoutAndDelete verify the DELETE endpoints.
func TestLogoutAndDelete(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Logout(context.Background(), "agent-cli-7"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := c.Delete(context.Background(), "agent-cli-7"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/instance/logout/agent-cli-7" || paths[1] != "/instance/delete/agent-cli-7" {
		t.Fatalf("paths = %v", paths)
	}
}

// TestSendText verifies the relay body.
func TestSendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message/sendText/agent-cli-8" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["number"] != "5511999999999" || body["text"] != "hello" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.SendText(context.Background(), "agent-cli-8", "5511999999999", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
}

// TestDo_GatewayErrorWrapsUnavailable verifies non-2xx responses are
// uniformly classified.
func TestDo_GatewayErrorWrapsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such instance", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if err := c.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
