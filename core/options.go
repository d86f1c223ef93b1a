package core

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig        Config
	logger               Logger
	loggerProvider       LoggerProvider
	metricsRecorder      MetricsRecorder
	errorMapper          ErrorMapper
	persistenceClient    any
	repositoryFactory    any
	configProvider       ConfigProvider
	optionsResolver      OptionsResolver
	store                Store
	emitter              EventEmitter
	outboxStore          OutboxStore
	leaderLocker         LeaderLocker
	certificateRequester CertificateRequester
	clock                func() time.Time
	idGenerator          func() string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

// WithPersistenceClient passes a client to the RepositoryStoreFactory given via
// WithRepositoryFactory.
func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithStore(store Store) Option {
	return func(b *serviceBuilder) {
		b.store = store
	}
}

func WithEventEmitter(emitter EventEmitter) Option {
	return func(b *serviceBuilder) {
		b.emitter = emitter
	}
}

// WithOutbox routes lifecycle events through the transactional outbox.
func WithOutbox(store OutboxStore) Option {
	return func(b *serviceBuilder) {
		b.outboxStore = store
	}
}

func WithLeaderLocker(locker LeaderLocker) Option {
	return func(b *serviceBuilder) {
		b.leaderLocker = locker
	}
}

func WithCertificateRequester(requester CertificateRequester) Option {
	return func(b *serviceBuilder) {
		b.certificateRequester = requester
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func WithIDGenerator(generator func() string) Option {
	return func(b *serviceBuilder) {
		b.idGenerator = generator
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("creditlots", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     engineErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		emitter:         NopEmitter{},
		leaderLocker:    NewMemoryLeaderLocker(),
		clock:           func() time.Time { return time.Now().UTC() },
		idGenerator:     uuid.NewString,
	}
}
