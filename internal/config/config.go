// Package config loads the chatbridge configuration from a JSON5 file
// with environment overrides for secrets and deployment knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the bridge service.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Bridge    BridgeConfig    `json:"bridge,omitempty"`
	Provider  ProviderConfig  `json:"provider,omitempty"`
	Reconcile ReconcileConfig `json:"reconcile,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	AuthToken  string `json:"-"` // from env CHATBRIDGE_AUTH_TOKEN only
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Addr returns the host:port pair for net listeners.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures storage. An empty DSN selects the embedded
// SQLite file, so single-process deployments keep their data without a
// database server. PostgresDSN is NEVER read from the config file
// (secret), only from env CHATBRIDGE_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN   string `json:"-"`
	SQLitePath    string `json:"sqlite_path,omitempty"`
	MigrationsDir string `json:"migrations_dir,omitempty"`
}

// BridgeConfig is the bootstrap gateway endpoint. Runtime values live
// in the bridge_configs table; these seed it via the onboard command.
type BridgeConfig struct {
	APIURL string `json:"api_url,omitempty"`
	APIKey string `json:"-"` // from env CHATBRIDGE_BRIDGE_API_KEY only
}

// ProviderConfig configures the language-model and transcription
// provider.
type ProviderConfig struct {
	APIKey             string `json:"-"` // from env CHATBRIDGE_PROVIDER_API_KEY only
	BaseURL            string `json:"base_url,omitempty"`
	Model              string `json:"model,omitempty"`
	TranscriptionModel string `json:"transcription_model,omitempty"`
}

// ReconcileConfig tunes the status reconciliation machinery.
type ReconcileConfig struct {
	PollSeconds int    `json:"poll_seconds,omitempty"`
	SweepCron   string `json:"sweep_cron,omitempty"` // e.g. "*/15 * * * *", empty disables
}

// PollInterval returns the poll period, defaulting when unset.
func (r ReconcileConfig) PollInterval() time.Duration {
	if r.PollSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.PollSeconds) * time.Second
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// TailscaleConfig configures the optional tsnet admin listener.
// Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // from env CHATBRIDGE_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18900,
		},
		Database: DatabaseConfig{
			SQLitePath:    "chatbridge.db",
			MigrationsDir: "migrations",
		},
		Provider: ProviderConfig{
			Model:              "gpt-4o-mini",
			TranscriptionModel: "whisper-1",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "chatbridge",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A
// missing file is not an error; env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config to a JSON file. Fields tagged "-" (secrets)
// never land on disk.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("CHATBRIDGE_HOST", &c.Server.Host)
	if v := os.Getenv("CHATBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	envStr("CHATBRIDGE_AUTH_TOKEN", &c.Server.AuthToken)
	envStr("CHATBRIDGE_WEBHOOK_URL", &c.Server.WebhookURL)

	envStr("CHATBRIDGE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CHATBRIDGE_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("CHATBRIDGE_MIGRATIONS_DIR", &c.Database.MigrationsDir)

	envStr("CHATBRIDGE_BRIDGE_API_URL", &c.Bridge.APIURL)
	envStr("CHATBRIDGE_BRIDGE_API_KEY", &c.Bridge.APIKey)

	envStr("CHATBRIDGE_PROVIDER_API_KEY", &c.Provider.APIKey)
	envStr("CHATBRIDGE_PROVIDER_BASE_URL", &c.Provider.BaseURL)
	envStr("CHATBRIDGE_MODEL", &c.Provider.Model)
	envStr("CHATBRIDGE_TRANSCRIPTION_MODEL", &c.Provider.TranscriptionModel)

	if v := os.Getenv("CHATBRIDGE_POLL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Reconcile.PollSeconds = secs
		}
	}
	envStr("CHATBRIDGE_SWEEP_CRON", &c.Reconcile.SweepCron)

	envStr("CHATBRIDGE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CHATBRIDGE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CHATBRIDGE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CHATBRIDGE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	envStr("CHATBRIDGE_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("CHATBRIDGE_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("CHATBRIDGE_TSNET_DIR", &c.Tailscale.StateDir)
}
