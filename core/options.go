package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticRawConfigLoader wraps a literal map for tests and embedded setups.
func StaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults, loaded config, and runtime overrides as
// layered scopes with increasing precedence.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	security := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Security.Secret) != "" {
		security["secret"] = cfg.Security.Secret
	}
	if includeZero || cfg.Security.ToleranceSeconds != 0 {
		security["tolerance_seconds"] = cfg.Security.ToleranceSeconds
	}
	if includeZero || len(cfg.Security.Whitelist) > 0 {
		security["whitelist"] = append([]string(nil), cfg.Security.Whitelist...)
	}
	if includeZero || cfg.Security.AllowLegacySignature {
		security["allow_legacy_signature"] = cfg.Security.AllowLegacySignature
	}
	if len(security) > 0 {
		layer["security"] = security
	}

	queue := map[string]any{}
	if includeZero || cfg.Queue.MaxAttempts != 0 {
		queue["max_attempts"] = cfg.Queue.MaxAttempts
	}
	if includeZero || cfg.Queue.BackoffBaseSeconds != 0 {
		queue["backoff_base_seconds"] = cfg.Queue.BackoffBaseSeconds
	}
	if includeZero || cfg.Queue.BackoffCapSeconds != 0 {
		queue["backoff_cap_seconds"] = cfg.Queue.BackoffCapSeconds
	}
	if len(queue) > 0 {
		layer["queue"] = queue
	}

	gateway := map[string]any{}
	if includeZero || cfg.Gateway.Async {
		gateway["async"] = cfg.Gateway.Async
	}
	if includeZero || strings.TrimSpace(cfg.Gateway.SignatureHeader) != "" {
		gateway["signature_header"] = cfg.Gateway.SignatureHeader
	}
	if len(gateway) > 0 {
		layer["gateway"] = gateway
	}

	return layer
}
