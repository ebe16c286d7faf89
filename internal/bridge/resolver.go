package bridge

import (
	"context"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// Gateway is the client surface consumed by the orchestration and
// reconciliation layers. *Client implements it; tests substitute fakes.
type Gateway interface {
	CreateInstance(ctx context.Context, name, webhookURL string) error
	Connect(ctx context.Context, name string) (*ConnectResult, error)
	State(ctx context.Context, name string) (*ConnectionState, error)
	Logout(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	SendText(ctx context.Context, name, number, text string) error
	Ping(ctx context.Context) error
}

// Resolver yields a gateway client for an instance, preferring the
// instance's per-tenant credential overrides and falling back to the
// administrator-managed global config. With neither present the store's
// ErrNotConfigured short-circuits all orchestration.
type Resolver struct {
	configs store.BridgeConfigStore
}

func NewResolver(configs store.BridgeConfigStore) *Resolver {
	return &Resolver{configs: configs}
}

// For resolves credentials for one instance.
func (r *Resolver) For(ctx context.Context, inst *store.InstanceConfig) (Gateway, error) {
	if inst != nil && inst.APIURL != "" && inst.APIKey != "" {
		return New(inst.APIURL, inst.APIKey), nil
	}
	cfg, err := r.configs.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	return New(cfg.APIURL, cfg.APIKey), nil
}

// Global resolves the administrator-managed credentials only.
func (r *Resolver) Global(ctx context.Context) (Gateway, error) {
	cfg, err := r.configs.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	return New(cfg.APIURL, cfg.APIKey), nil
}

// ClientResolver is the resolving surface consumed by other packages.
type ClientResolver interface {
	For(ctx context.Context, inst *store.InstanceConfig) (Gateway, error)
	Global(ctx context.Context) (Gateway, error)
}
