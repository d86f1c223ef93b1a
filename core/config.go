package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultHoldTTL               = 72 * time.Hour
	defaultPaymentTimeout        = 24 * time.Hour
	defaultReservedOrderTTL      = 72 * time.Hour
	defaultSweepInterval         = 5 * time.Minute
	defaultSweepBatchSize        = 200
	defaultConflictRetryAttempts = 3
	defaultLeaderLockTTL         = 2 * time.Minute
	defaultLeaderLockKey         = "creditlots.sweeper"
)

type OutboxConfig struct {
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
}

type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`
	// HoldTTL is the lifetime of a hold before the sweeper may expire it.
	HoldTTL time.Duration `koanf:"hold_ttl" mapstructure:"hold_ttl"`
	// PaymentTimeout bounds PAYMENT_PENDING, counted from payment initiation.
	PaymentTimeout time.Duration `koanf:"payment_timeout" mapstructure:"payment_timeout"`
	// ReservedOrderTTL bounds RESERVED orders, counted from creation. Zero disables it.
	ReservedOrderTTL      time.Duration `koanf:"reserved_order_ttl" mapstructure:"reserved_order_ttl"`
	SweepInterval         time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
	SweepBatchSize        int           `koanf:"sweep_batch_size" mapstructure:"sweep_batch_size"`
	ConflictRetryAttempts int           `koanf:"conflict_retry_attempts" mapstructure:"conflict_retry_attempts"`
	LeaderLockTTL         time.Duration `koanf:"leader_lock_ttl" mapstructure:"leader_lock_ttl"`
	LeaderLockKey         string        `koanf:"leader_lock_key" mapstructure:"leader_lock_key"`
	Outbox                OutboxConfig  `koanf:"outbox" mapstructure:"outbox"`
}

func DefaultConfig() Config {
	outbox := DefaultOutboxDispatcherConfig()
	return Config{
		ServiceName:           "creditlots",
		HoldTTL:               defaultHoldTTL,
		PaymentTimeout:        defaultPaymentTimeout,
		ReservedOrderTTL:      defaultReservedOrderTTL,
		SweepInterval:         defaultSweepInterval,
		SweepBatchSize:        defaultSweepBatchSize,
		ConflictRetryAttempts: defaultConflictRetryAttempts,
		LeaderLockTTL:         defaultLeaderLockTTL,
		LeaderLockKey:         defaultLeaderLockKey,
		Outbox: OutboxConfig{
			BatchSize:      outbox.BatchSize,
			MaxAttempts:    outbox.MaxAttempts,
			InitialBackoff: outbox.InitialBackoff,
			MaxBackoff:     outbox.MaxBackoff,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.HoldTTL <= 0 {
		return fmt.Errorf("core: hold_ttl must be positive")
	}
	if c.PaymentTimeout <= 0 {
		return fmt.Errorf("core: payment_timeout must be positive")
	}
	if c.ReservedOrderTTL < 0 {
		return fmt.Errorf("core: reserved_order_ttl must not be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("core: sweep_interval must be positive")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("core: sweep_batch_size must be positive")
	}
	if c.ConflictRetryAttempts < 1 {
		return fmt.Errorf("core: conflict_retry_attempts must be at least 1")
	}
	if c.LeaderLockTTL <= 0 {
		return fmt.Errorf("core: leader_lock_ttl must be positive")
	}
	if strings.TrimSpace(c.LeaderLockKey) == "" {
		return fmt.Errorf("core: leader_lock_key is required")
	}
	return nil
}

func (c OutboxConfig) dispatcherConfig() OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		BatchSize:      c.BatchSize,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
	}
}
