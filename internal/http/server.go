// Package http exposes the bridge service API: the gateway webhook
// receiver, the action dispatch endpoint, instance views, admin
// configuration and the live event feed.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nextlevelbuilder/chatbridge/internal/events"
	"github.com/nextlevelbuilder/chatbridge/internal/ingest"
	"github.com/nextlevelbuilder/chatbridge/internal/orchestrator"
	"github.com/nextlevelbuilder/chatbridge/internal/reconciler"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// Server is the HTTP front of the bridge service.
type Server struct {
	addr string

	tokenMu sync.RWMutex
	token   string

	stores   *store.Stores
	orch     *orchestrator.Orchestrator
	rec      *reconciler.Reconciler
	ingestor *ingest.Ingestor
	hub      *events.Hub
	tracer   trace.Tracer

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the handlers together. tracer may be nil.
func NewServer(addr, token string, stores *store.Stores, orch *orchestrator.Orchestrator, rec *reconciler.Reconciler, ingestor *ingest.Ingestor, hub *events.Hub, tracer trace.Tracer) *Server {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("chatbridge")
	}
	s := &Server{
		addr:     addr,
		token:    token,
		stores:   stores,
		orch:     orch,
		rec:      rec,
		ingestor: ingestor,
		hub:      hub,
		tracer:   tracer,
	}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /webhook", s.handleWebhook)
	s.mux.HandleFunc("OPTIONS /webhook", s.handleWebhookPreflight)

	s.mux.HandleFunc("POST /v1/bridge/actions", s.auth(s.handleAction))
	s.mux.HandleFunc("GET /v1/instances", s.auth(s.handleListInstances))
	s.mux.HandleFunc("GET /v1/instances/{id}", s.auth(s.handleGetInstance))
	s.mux.HandleFunc("POST /v1/admin/bridge-config", s.auth(s.handleUpsertBridgeConfig))
	s.mux.HandleFunc("GET /v1/admin/bridge-config", s.auth(s.handleGetBridgeConfig))
	s.mux.HandleFunc("GET /v1/events", s.auth(s.handleEvents))
}

// Handler returns the routed handler. Exposed for tsnet listeners and
// tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving on the configured address. It returns once the
// listener is bound; serving continues until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server terminated", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetAuthToken swaps the bearer token. Used by config hot reload.
func (s *Server) SetAuthToken(token string) {
	s.tokenMu.Lock()
	s.token = token
	s.tokenMu.Unlock()
}

func (s *Server) authToken() string {
	s.tokenMu.RLock()
	defer s.tokenMu.RUnlock()
	return s.token
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := s.authToken(); token != "" {
			if extractBearerToken(r) != token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

// extractBearerToken pulls the token from the Authorization header or,
// for WebSocket clients that cannot set headers, the access_token query
// parameter.
func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
