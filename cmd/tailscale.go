//go:build tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/chatbridge/internal/config"
)

// initTailscale serves the same handler on a tsnet listener so the admin
// API is reachable over the tailnet without exposing it publicly.
// Compiled via `go build -tags tsnet`; returns a cleanup func or nil.
func initTailscale(ctx context.Context, cfg *config.Config, handler http.Handler) func() {
	if cfg.Tailscale.Hostname == "" {
		return nil
	}

	stateDir := cfg.Tailscale.StateDir
	if stateDir == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			stateDir = filepath.Join(dir, "tsnet-chatbridge")
		}
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Tailscale.Hostname,
		Dir:       stateDir,
		AuthKey:   cfg.Tailscale.AuthKey,
		Ephemeral: cfg.Tailscale.Ephemeral,
	}

	ln, err := srv.Listen("tcp", ":443")
	if err != nil {
		slog.Error("tsnet listen failed", "error", err)
		srv.Close()
		return nil
	}

	go func() {
		slog.Info("tsnet listener up", "hostname", cfg.Tailscale.Hostname)
		if err := http.Serve(ln, handler); err != nil {
			slog.Debug("tsnet serve ended", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	return func() { srv.Close() }
}
