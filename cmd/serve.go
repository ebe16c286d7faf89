package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/chatbridge/internal/bridge"
	"github.com/nextlevelbuilder/chatbridge/internal/config"
	"github.com/nextlevelbuilder/chatbridge/internal/events"
	httpapi "github.com/nextlevelbuilder/chatbridge/internal/http"
	"github.com/nextlevelbuilder/chatbridge/internal/ingest"
	"github.com/nextlevelbuilder/chatbridge/internal/orchestrator"
	"github.com/nextlevelbuilder/chatbridge/internal/reconciler"
	"github.com/nextlevelbuilder/chatbridge/internal/responder"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
	"github.com/nextlevelbuilder/chatbridge/internal/store/pg"
	"github.com/nextlevelbuilder/chatbridge/internal/store/sqlite"
	"github.com/nextlevelbuilder/chatbridge/internal/tracing"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		tp.Shutdown(shutdownCtx)
	}()

	var stores *store.Stores
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		stores, err = pg.NewPGStores(dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("CHATBRIDGE_POSTGRES_DSN not set, using embedded sqlite store",
			"path", cfg.Database.SQLitePath)
		stores, err = sqlite.NewStores(cfg.Database.SQLitePath)
		if err != nil {
			slog.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
	}

	hub := events.NewHub()
	resolver := bridge.NewResolver(stores.BridgeConfigs)

	rec := reconciler.New(stores.Instances, resolver, hub)
	rec.Poller().SetInterval(cfg.Reconcile.PollInterval())
	rec.Poller().Bind(ctx)

	orch := orchestrator.New(stores, resolver, rec, webhookURL(cfg))

	generator := responder.NewOpenAIGenerator(cfg.Provider.APIKey, cfg.Provider.BaseURL)
	resp := responder.New(stores, resolver, generator, cfg.Provider.Model)
	audio := responder.NewAudioPipeline(cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.TranscriptionModel)
	ing := ingest.New(stores.Conversations, stores.Messages, resp, audio)

	srv := httpapi.NewServer(cfg.Server.Addr(), cfg.Server.AuthToken,
		stores, orch, rec, ing, hub, tp.Tracer())

	if sweeper, err := reconciler.NewSweeper(rec, cfg.Reconcile.SweepCron); err != nil {
		slog.Error("invalid sweep cron expression", "cron", cfg.Reconcile.SweepCron, "error", err)
		os.Exit(1)
	} else if sweeper != nil {
		go sweeper.Run(ctx)
	}

	// Secrets can rotate without a restart.
	if watcher, err := config.NewWatcher(cfgPath, func(c *config.Config) {
		srv.SetAuthToken(c.Server.AuthToken)
	}); err == nil {
		if err := watcher.Start(ctx); err != nil {
			slog.Debug("config watch unavailable", "error", err)
		}
	}

	tsCleanup := initTailscale(ctx, cfg, srv.Handler())
	if tsCleanup != nil {
		defer tsCleanup()
	}

	if err := srv.Start(); err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}

	// Resume polling for instances left mid-pairing by the previous run.
	rec.Poller().Poke()

	slog.Info("chatbridge started",
		"version", Version,
		"addr", cfg.Server.Addr(),
		"poll_interval", cfg.Reconcile.PollInterval(),
	)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	rec.Poller().Stop()
}

// webhookURL is what gateway instances are told to push events to. It
// must be reachable from the gateway, so a bind-all listen address is
// no substitute for an explicit setting.
func webhookURL(cfg *config.Config) string {
	if cfg.Server.WebhookURL != "" {
		return cfg.Server.WebhookURL
	}
	url := fmt.Sprintf("http://localhost:%d/webhook", cfg.Server.Port)
	slog.Warn("webhook_url not configured, defaulting", "url", url)
	return url
}
