package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	creditlots "github.com/goliatone/go-creditlots"
	"github.com/goliatone/go-creditlots/adapters/clickhouse"
	"github.com/goliatone/go-creditlots/adapters/gologger"
	"github.com/goliatone/go-creditlots/adapters/kafka"
	"github.com/goliatone/go-creditlots/adapters/pglock"
	promadapter "github.com/goliatone/go-creditlots/adapters/prometheus"
	"github.com/goliatone/go-creditlots/adapters/redislock"
	"github.com/goliatone/go-creditlots/core"
	sqlstore "github.com/goliatone/go-creditlots/store/sql"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// engineRuntime is everything a subcommand needs, wired from config.
type engineRuntime struct {
	cfg        appConfig
	viper      *viper.Viper
	logger     core.Logger
	provider   glog.LoggerProvider
	client     *persistence.Client
	factory    *sqlstore.RepositoryFactory
	svc        *creditlots.Service
	facade     *creditlots.Facade
	sinks      *core.MemorySinkRegistry
	dispatcher *core.OutboxDispatcher
	registry   *prometheus.Registry
	redis      *redis.Client

	closers []func() error
}

type runtimeOption func(*runtimeSettings)

type runtimeSettings struct {
	skipSinks bool
}

// withoutSinks leaves the sink registry empty, for commands that never
// dispatch the outbox.
func withoutSinks() runtimeOption {
	return func(s *runtimeSettings) { s.skipSinks = true }
}

// openDatabase loads config and opens (and optionally migrates) the store.
func openDatabase(ctx context.Context, flags *rootFlags) (*engineRuntime, error) {
	v, err := newViper(flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loadAppConfig(v, flags.dev)
	if err != nil {
		return nil, err
	}
	base := newLogger(os.Stderr, cfg.LogLevel)
	provider, logger := gologger.Resolve("cli", base, base)

	rt := &engineRuntime{cfg: cfg, viper: v, logger: logger, provider: provider}
	client, err := sqlstore.NewClient(sqlstore.ClientConfig{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN})
	if err != nil {
		return nil, err
	}
	rt.client = client
	rt.closers = append(rt.closers, client.Close)
	if cfg.AutoMigrate {
		if err := sqlstore.Migrate(ctx, client, cfg.DatabaseDriver); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return rt, nil
}

func buildRuntime(ctx context.Context, flags *rootFlags, opts ...runtimeOption) (*engineRuntime, error) {
	var settings runtimeSettings
	for _, opt := range opts {
		opt(&settings)
	}
	rt, err := openDatabase(ctx, flags)
	if err != nil {
		return nil, err
	}
	if err := rt.wire(ctx, settings); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *engineRuntime) wire(ctx context.Context, settings runtimeSettings) error {
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(rt.client)
	if err != nil {
		return err
	}
	rt.factory = factory

	locker, err := rt.leaderLocker(ctx)
	if err != nil {
		return err
	}

	rt.registry = prometheus.NewRegistry()
	recorder := promadapter.NewRecorder(promadapter.WithRegisterer(rt.registry))

	// the zero runtime layer leaves file and env config in charge
	opts := append([]creditlots.Option{
		creditlots.WithLogger(rt.logger),
		creditlots.WithLoggerProvider(rt.provider),
		creditlots.WithConfigProvider(core.NewCfgxConfigProvider(viperConfigLoader{v: rt.viper})),
		creditlots.WithLeaderLocker(locker),
		creditlots.WithMetricsRecorder(recorder),
	}, factory.ServiceOptions()...)
	svc, err := creditlots.NewService(creditlots.Config{}, opts...)
	if err != nil {
		return err
	}
	rt.svc = svc

	cacheService, err := repositorycache.NewCacheService(repositorycache.DefaultConfig())
	if err != nil {
		return fmt.Errorf("lot cache: %w", err)
	}
	cached, err := sqlstore.NewCachedLotReader(svc.Lots(), cacheService)
	if err != nil {
		return err
	}

	rt.sinks = core.NewSinkRegistry()
	rt.sinks.Register("lot-cache", cached)
	if !settings.skipSinks {
		if err := rt.registerSinks(ctx); err != nil {
			return err
		}
	}
	dispatcher, err := svc.NewOutboxDispatcher(factory.OutboxStore(), rt.sinks)
	if err != nil {
		return err
	}
	rt.dispatcher = dispatcher

	facade, err := creditlots.NewFacade(svc, creditlots.WithLotReader(catalogReader{cached: cached, lots: svc.Lots()}))
	if err != nil {
		return err
	}
	rt.facade = facade
	return nil
}

func (rt *engineRuntime) leaderLocker(ctx context.Context) (core.LeaderLocker, error) {
	switch rt.cfg.LockBackend {
	case "redis":
		client, err := rt.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redislock.New(client)
	case "postgres":
		pool, err := pglock.NewPool(ctx, rt.cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error {
			pool.Close()
			return nil
		})
		return pglock.New(pool)
	default:
		return core.NewMemoryLeaderLocker(), nil
	}
}

// redisClient opens the shared redis connection on first use.
func (rt *engineRuntime) redisClient(ctx context.Context) (*redis.Client, error) {
	if rt.redis != nil {
		return rt.redis, nil
	}
	client := redis.NewClient(&redis.Options{Addr: rt.cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	rt.redis = client
	rt.closers = append(rt.closers, client.Close)
	return client, nil
}

func (rt *engineRuntime) registerSinks(ctx context.Context) error {
	rt.sinks.Register("log", core.EventSinkFunc(func(ctx context.Context, event core.Event) error {
		rt.logger.WithContext(ctx).Debug("lifecycle event",
			"event_id", event.ID,
			"event_name", event.Name,
			"entity_id", event.EntityID,
			"lot_id", event.LotID,
		)
		return nil
	}))

	if len(rt.cfg.KafkaBrokers) > 0 {
		writer := kafka.NewWriter(rt.cfg.KafkaBrokers)
		rt.closers = append(rt.closers, writer.Close)
		sink, err := kafka.NewSink(writer, rt.cfg.KafkaTopic)
		if err != nil {
			return err
		}
		rt.sinks.Register("kafka", sink)
	}

	if rt.cfg.ClickHouseDSN != "" {
		conn, err := clickhouse.Open(ctx, rt.cfg.ClickHouseDSN)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, conn.Close)
		sink, err := clickhouse.NewAuditSink(conn, rt.cfg.ClickHouseTable)
		if err != nil {
			return err
		}
		if err := sink.EnsureSchema(ctx); err != nil {
			return err
		}
		rt.sinks.Register("clickhouse", sink)
	}
	return nil
}

// newLogger is the process root logger: JSON lines on w, named creditlots.
func newLogger(w io.Writer, level string) *glog.BaseLogger {
	return glog.NewLogger(
		glog.WithLoggerTypeJSON(),
		glog.WithLevel(level),
		glog.WithWriter(w),
		glog.WithName(gologger.RootName),
	)
}

// Close releases resources in reverse order of acquisition.
func (rt *engineRuntime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// catalogReader serves single lot reads from the cache and everything else
// from the registry.
type catalogReader struct {
	cached *sqlstore.CachedLotReader
	lots   *core.LotRegistry
}

func (r catalogReader) GetLot(ctx context.Context, lotID string) (core.CreditLot, error) {
	return r.cached.GetLot(ctx, lotID)
}

func (r catalogReader) ListLots(ctx context.Context, filter core.LotFilter) ([]core.CreditLot, error) {
	return r.lots.ListLots(ctx, filter)
}

func (r catalogReader) CapacitySummary(ctx context.Context, lotID string) (core.CapacitySummary, error) {
	return r.lots.CapacitySummary(ctx, lotID)
}
