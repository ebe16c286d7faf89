package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatbridge/internal/config"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
	"github.com/nextlevelbuilder/chatbridge/internal/store/pg"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

// runOnboard collects the gateway endpoint and credentials, writes the
// config file and, when Postgres is configured, seeds the active bridge
// config row so the service is usable immediately after `chatbridge`.
func runOnboard() error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	var (
		gatewayURL  = cfg.Bridge.APIURL
		gatewayKey  string
		providerKey string
		webhookURL  = cfg.Server.WebhookURL
		seedDB      = cfg.Database.PostgresDSN != ""
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Chat gateway API URL").
				Description("Base URL of the gateway this service manages instances on").
				Placeholder("https://gateway.example.com").
				Value(&gatewayURL),
			huh.NewInput().
				Title("Gateway API key").
				EchoMode(huh.EchoModePassword).
				Value(&gatewayKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Public webhook URL").
				Description("Where the gateway can reach this service, e.g. https://bridge.example.com/webhook").
				Value(&webhookURL),
			huh.NewInput().
				Title("LLM provider API key").
				Description("Used for automated responses and voice transcription (stored in .env.local, not config)").
				EchoMode(huh.EchoModePassword).
				Value(&providerKey),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	if gatewayURL == "" || gatewayKey == "" {
		return fmt.Errorf("gateway URL and API key are required")
	}

	cfg.Bridge.APIURL = gatewayURL
	cfg.Server.WebhookURL = webhookURL
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("Wrote %s\n", cfgPath)

	if err := writeEnvFile(gatewayKey, providerKey); err != nil {
		return err
	}

	if seedDB {
		if err := seedBridgeConfig(cfg.Database.PostgresDSN, gatewayURL, gatewayKey); err != nil {
			return fmt.Errorf("seed bridge config: %w", err)
		}
		fmt.Println("Seeded active bridge config in Postgres")
	} else {
		fmt.Println("No CHATBRIDGE_POSTGRES_DSN set; configure the gateway at runtime via POST /v1/admin/bridge-config")
	}

	fmt.Println("\nDone. Start the service with:  source .env.local && ./chatbridge")
	return nil
}

func writeEnvFile(gatewayKey, providerKey string) error {
	content := fmt.Sprintf("export CHATBRIDGE_BRIDGE_API_KEY=%q\n", gatewayKey)
	if providerKey != "" {
		content += fmt.Sprintf("export CHATBRIDGE_PROVIDER_API_KEY=%q\n", providerKey)
	}
	if err := os.WriteFile(".env.local", []byte(content), 0600); err != nil {
		return fmt.Errorf("write .env.local: %w", err)
	}
	fmt.Println("Wrote .env.local (keep it out of version control)")
	return nil
}

func seedBridgeConfig(dsn, apiURL, apiKey string) error {
	stores, err := pg.NewPGStores(dsn)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return stores.BridgeConfigs.Upsert(ctx, &store.BridgeConfig{
		APIURL: apiURL,
		APIKey: apiKey,
		Active: true,
	})
}
