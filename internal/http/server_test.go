package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/bridge"
	"github.com/nextlevelbuilder/chatbridge/internal/events"
	"github.com/nextlevelbuilder/chatbridge/internal/ingest"
	"github.com/nextlevelbuilder/chatbridge/internal/orchestrator"
	"github.com/nextlevelbuilder/chatbridge/internal/reconciler"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
	"github.com/nextlevelbuilder/chatbridge/internal/store/mem"
)

const testToken = "test-bearer-token"

// fakeGateway is a scriptable remote for handler tests.
type fakeGateway struct {
	mu      sync.Mutex
	state   string
	pingErr error
	sent    [][3]string
}

func (f *fakeGateway) CreateInstance(ctx context.Context, name, webhookURL string) error { return nil }
func (f *fakeGateway) Connect(ctx context.Context, name string) (*bridge.ConnectResult, error) {
	return &bridge.ConnectResult{QR: &bridge.QRArtifact{Base64: "QR-B64"}}, nil
}
func (f *fakeGateway) State(ctx context.Context, name string) (*bridge.ConnectionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &bridge.ConnectionState{Instance: name, State: f.state}, nil
}
func (f *fakeGateway) Logout(ctx context.Context, name string) error { return nil }
func (f *fakeGateway) Delete(ctx context.Context, name string) error { return nil }
func (f *fakeGateway) SendText(ctx context.Context, name, number, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, [3]string{name, number, text})
	return nil
}
func (f *fakeGateway) Ping(ctx context.Context) error { return f.pingErr }

// fakeResolver honors the configured/not-configured distinction so the
// precondition paths stay testable.
type fakeResolver struct {
	gw      bridge.Gateway
	configs store.BridgeConfigStore
}

func (f *fakeResolver) For(ctx context.Context, inst *store.InstanceConfig) (bridge.Gateway, error) {
	if _, err := f.configs.GetActive(ctx); err != nil {
		return nil, err
	}
	return f.gw, nil
}

func (f *fakeResolver) Global(ctx context.Context) (bridge.Gateway, error) {
	if _, err := f.configs.GetActive(ctx); err != nil {
		return nil, err
	}
	return f.gw, nil
}

type serverFixture struct {
	server  *Server
	stores  *store.Stores
	gateway *fakeGateway
	hub     *events.Hub
}

// newTestServer builds the full handler stack on in-memory stores with
// global gateway credentials already configured.
func newTestServer(t *testing.T, configured bool) *serverFixture {
	t.Helper()
	stores := mem.NewStores()
	if configured {
		err := stores.BridgeConfigs.Upsert(context.Background(), &store.BridgeConfig{
			APIURL: "https://gateway.test",
			APIKey: "test-gateway-key",
			Active: true,
		})
		if err != nil {
			t.Fatalf("seed bridge config: %v", err)
		}
	}

	gw := &fakeGateway{state: "connecting"}
	resolver := &fakeResolver{gw: gw, configs: stores.BridgeConfigs}
	hub := events.NewHub()
	rec := reconciler.New(stores.Instances, resolver, hub)
	t.Cleanup(rec.Poller().Stop)
	orch := orchestrator.New(stores, resolver, rec, "https://bridge.test/webhook")
	ingestor := ingest.New(stores.Conversations, stores.Messages, nil, nil)

	srv := NewServer("127.0.0.1:0", testToken, stores, orch, rec, ingestor, hub, nil)
	return &serverFixture{server: srv, stores: stores, gateway: gw, hub: hub}
}

// seedInstance inserts one instance row directly.
func (f *serverFixture) seedInstance(t *testing.T, name string) *store.InstanceConfig {
	t.Helper()
	inst := &store.InstanceConfig{TenantID: uuid.Must(uuid.NewV7()), Name: name}
	if err := f.stores.Instances.Create(context.Background(), inst); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	return inst
}

// doJSON posts a JSON body with the test bearer token and decodes the
// JSON reply.
func (f *serverFixture) doJSON(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if out != nil && rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr
}

// TestAuth_MissingToken verifies protected routes reject requests
// without the bearer token while the webhook stays open.
func TestAuth_MissingToken(t *testing.T) {
	f := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/v1/instances", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"event":"nope"}`))
	rr = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", rr.Code)
	}
}

// TestAuth_QueryParamToken verifies the access_token fallback used by
// WebSocket clients.
func TestAuth_QueryParamToken(t *testing.T) {
	f := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/v1/instances?access_token="+testToken, nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

// TestSetAuthToken verifies a rotated token takes effect immediately.
func TestSetAuthToken(t *testing.T) {
	f := newTestServer(t, true)
	f.server.SetAuthToken("rotated")

	rr := f.doJSON(t, http.MethodGet, "/v1/instances", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("old token accepted after rotation, status = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/instances", nil)
	req.Header.Set("Authorization", "Bearer rotated")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotated token rejected, status = %d", rec.Code)
	}
}

// TestHealthz verifies the liveness probe.
func TestHealthz(t *testing.T) {
	f := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}
