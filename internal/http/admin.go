package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// handleUpsertBridgeConfig replaces the administrator-managed global
// gateway endpoint and credential.
func (s *Server) handleUpsertBridgeConfig(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIURL string `json:"api_url"`
		APIKey string `json:"api_key"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if body.APIURL == "" || body.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "api_url and api_key are required"})
		return
	}

	cfg := &store.BridgeConfig{APIURL: body.APIURL, APIKey: body.APIKey, Active: true}
	if err := s.stores.BridgeConfigs.Upsert(r.Context(), cfg); err != nil {
		slog.Error("bridge config upsert failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store bridge config"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"api_url": cfg.APIURL,
	})
}

// handleGetBridgeConfig returns the active gateway endpoint with the
// credential masked.
func (s *Server) handleGetBridgeConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.stores.BridgeConfigs.GetActive(r.Context())
	if errors.Is(err, store.ErrNotConfigured) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		slog.Error("bridge config read failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read bridge config"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"api_url": cfg.APIURL,
		"api_key": maskSecret(cfg.APIKey),
		"active":  cfg.Active,
	})
}

// maskSecret keeps enough of a credential to recognize it and nothing
// more.
func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
