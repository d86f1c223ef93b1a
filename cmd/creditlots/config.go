package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-creditlots/core"
	"github.com/spf13/viper"
)

const envPrefix = "CREDITLOTS"

const (
	queueMemory   = "memory"
	queueRedis    = "redis"
	queuePostgres = "postgres"
)

// appConfig holds process wiring. Engine settings live under the engine key
// and are handed to core through viperConfigLoader.
type appConfig struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string

	DatabaseDriver string
	DatabaseDSN    string
	AutoMigrate    bool

	WebhookSecret string

	LockBackend  string
	QueueBackend string
	RedisAddr    string

	KafkaBrokers []string
	KafkaTopic   string

	ClickHouseDSN   string
	ClickHouseTable string

	DispatchInterval time.Duration
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("kafka.topic", "creditlots.lifecycle")
	v.SetDefault("clickhouse.table", "creditlots_audit")
	v.SetDefault("outbox.dispatch_interval", "5s")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func loadAppConfig(v *viper.Viper, dev bool) (appConfig, error) {
	cfg := appConfig{
		HTTPAddr:         v.GetString("http.addr"),
		MetricsAddr:      v.GetString("metrics.addr"),
		LogLevel:         strings.ToLower(v.GetString("log.level")),
		DatabaseDriver:   strings.ToLower(v.GetString("database.driver")),
		DatabaseDSN:      v.GetString("database.dsn"),
		AutoMigrate:      v.GetBool("database.auto_migrate"),
		WebhookSecret:    v.GetString("webhook.secret"),
		LockBackend:      strings.ToLower(v.GetString("lock.backend")),
		QueueBackend:     strings.ToLower(v.GetString("queue.backend")),
		RedisAddr:        v.GetString("redis.addr"),
		KafkaBrokers:     splitList(v.GetStringSlice("kafka.brokers")),
		KafkaTopic:       v.GetString("kafka.topic"),
		ClickHouseDSN:    v.GetString("clickhouse.dsn"),
		ClickHouseTable:  v.GetString("clickhouse.table"),
		DispatchInterval: v.GetDuration("outbox.dispatch_interval"),
	}
	if dev {
		cfg.DatabaseDriver = "sqlite3"
		if cfg.DatabaseDSN == "" || !strings.HasPrefix(cfg.DatabaseDSN, "file:") {
			cfg.DatabaseDSN = "file:creditlots-dev.db?cache=shared&_fk=1"
		}
		cfg.AutoMigrate = true
		cfg.LockBackend = "memory"
		cfg.QueueBackend = queueMemory
	}
	switch cfg.LockBackend {
	case "memory", "redis", "postgres":
	default:
		return appConfig{}, fmt.Errorf("lock.backend must be memory, redis or postgres, got %q", cfg.LockBackend)
	}
	if cfg.LockBackend == "redis" && cfg.RedisAddr == "" {
		return appConfig{}, fmt.Errorf("redis.addr is required for the redis lock backend")
	}
	if cfg.LockBackend == "postgres" && cfg.DatabaseDriver != "postgres" {
		return appConfig{}, fmt.Errorf("the postgres lock backend needs a postgres database")
	}
	backend, err := resolveQueueBackend(cfg, dev)
	if err != nil {
		return appConfig{}, err
	}
	cfg.QueueBackend = backend
	if cfg.DatabaseDSN == "" {
		return appConfig{}, fmt.Errorf("database.dsn is required")
	}
	if cfg.DispatchInterval <= 0 {
		return appConfig{}, fmt.Errorf("outbox.dispatch_interval must be positive")
	}
	return cfg, nil
}

// resolveQueueBackend picks the job queue. Left unset it prefers redis, then
// the postgres database; the memory queue is only for --dev. An empty result
// means no durable queue is available and the worker cannot start.
func resolveQueueBackend(cfg appConfig, dev bool) (string, error) {
	switch cfg.QueueBackend {
	case "":
		switch {
		case dev:
			return queueMemory, nil
		case cfg.RedisAddr != "":
			return queueRedis, nil
		case cfg.DatabaseDriver == "postgres":
			return queuePostgres, nil
		}
		return "", nil
	case queueMemory:
		if !dev {
			return "", fmt.Errorf("the memory job queue is only available with --dev")
		}
	case queueRedis:
		if cfg.RedisAddr == "" {
			return "", fmt.Errorf("redis.addr is required for the redis job queue")
		}
	case queuePostgres:
		if cfg.DatabaseDriver != "postgres" {
			return "", fmt.Errorf("the postgres job queue needs a postgres database")
		}
	default:
		return "", fmt.Errorf("queue.backend must be redis, postgres or memory, got %q", cfg.QueueBackend)
	}
	return cfg.QueueBackend, nil
}

// splitList accepts both yaml lists and a comma separated env value.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

var engineDurationKeys = []string{
	"hold_ttl",
	"payment_timeout",
	"reserved_order_ttl",
	"sweep_interval",
	"leader_lock_ttl",
	"outbox.initial_backoff",
	"outbox.max_backoff",
}

var engineIntKeys = []string{
	"sweep_batch_size",
	"conflict_retry_attempts",
	"outbox.batch_size",
	"outbox.max_attempts",
}

var engineStringKeys = []string{
	"service_name",
	"leader_lock_key",
}

// viperConfigLoader implements core.RawConfigLoader over the engine section,
// so engine keys can come from the yaml file or CREDITLOTS_ENGINE_* variables.
type viperConfigLoader struct {
	v *viper.Viper
}

var _ core.RawConfigLoader = viperConfigLoader{}

func (l viperConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	outbox := map[string]any{}
	put := func(key string, value any) {
		if name, ok := strings.CutPrefix(key, "outbox."); ok {
			outbox[name] = value
			return
		}
		raw[key] = value
	}
	for _, key := range engineDurationKeys {
		if l.v.IsSet("engine." + key) {
			put(key, l.v.GetDuration("engine."+key))
		}
	}
	for _, key := range engineIntKeys {
		if l.v.IsSet("engine." + key) {
			put(key, l.v.GetInt("engine."+key))
		}
	}
	for _, key := range engineStringKeys {
		if l.v.IsSet("engine." + key) {
			put(key, l.v.GetString("engine."+key))
		}
	}
	if len(outbox) > 0 {
		raw["outbox"] = outbox
	}
	return raw, nil
}
