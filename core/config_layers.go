package core

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

// CfgxConfigProvider decodes a raw config map onto the defaults and validates
// the result. Without a loader the defaults are returned validated.
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
	raw := map[string]any{}
	if p.Loader != nil {
		loaded, err := p.Loader.LoadRaw(ctx)
		if err != nil {
			return Config{}, err
		}
		raw = loaded
	}
	return buildConfig(raw, defaults)
}

// GoOptionsResolver merges defaults < loaded config < runtime overrides.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(opts.NewScope("defaults", 0), configLayer(defaults, false), opts.WithSnapshotID[map[string]any]("defaults")),
		opts.NewLayer(opts.NewScope("config", 10), configLayer(loaded, false), opts.WithSnapshotID[map[string]any]("config")),
		opts.NewLayer(opts.NewScope("runtime", 20), configLayer(runtime, true), opts.WithSnapshotID[map[string]any]("runtime")),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: build options stack: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: merge options: %w", err)
	}
	return buildConfig(merged.Value, defaults)
}

func buildConfig(raw map[string]any, defaults Config) (Config, error) {
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// configLayer flattens cfg into the keys the cfgx decoder reads. A sparse
// layer leaves out zero fields so an unset runtime value never hides a loaded
// one.
func configLayer(cfg Config, sparse bool) map[string]any {
	put := func(target map[string]any, key string, value any, zero bool) {
		if !sparse || !zero {
			target[key] = value
		}
	}
	layer := map[string]any{}
	put(layer, "service_name", cfg.ServiceName, cfg.ServiceName == "")
	put(layer, "leader_lock_key", cfg.LeaderLockKey, cfg.LeaderLockKey == "")
	for key, value := range map[string]time.Duration{
		"hold_ttl":           cfg.HoldTTL,
		"payment_timeout":    cfg.PaymentTimeout,
		"reserved_order_ttl": cfg.ReservedOrderTTL,
		"sweep_interval":     cfg.SweepInterval,
		"leader_lock_ttl":    cfg.LeaderLockTTL,
	} {
		put(layer, key, value, value == 0)
	}
	put(layer, "sweep_batch_size", cfg.SweepBatchSize, cfg.SweepBatchSize == 0)
	put(layer, "conflict_retry_attempts", cfg.ConflictRetryAttempts, cfg.ConflictRetryAttempts == 0)

	outbox := map[string]any{}
	put(outbox, "batch_size", cfg.Outbox.BatchSize, cfg.Outbox.BatchSize == 0)
	put(outbox, "max_attempts", cfg.Outbox.MaxAttempts, cfg.Outbox.MaxAttempts == 0)
	put(outbox, "initial_backoff", cfg.Outbox.InitialBackoff, cfg.Outbox.InitialBackoff == 0)
	put(outbox, "max_backoff", cfg.Outbox.MaxBackoff, cfg.Outbox.MaxBackoff == 0)
	if len(outbox) > 0 {
		layer["outbox"] = outbox
	}
	return layer
}
