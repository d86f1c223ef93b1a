package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service composes the lot registry, reservation manager, order controller and
// expiry sweeper over one Store. It is the entry point for every adapter.
type Service struct {
	config               Config
	logger               Logger
	loggerProvider       LoggerProvider
	metricsRecorder      MetricsRecorder
	errorMapper          ErrorMapper
	configProvider       ConfigProvider
	optionsResolver      OptionsResolver
	store                Store
	emitter              EventEmitter
	leaderLocker         LeaderLocker
	certificateRequester CertificateRequester
	now                  func() time.Time
	newID                func() string

	lots         *LotRegistry
	reservations *ReservationManager
	orders       *OrderController
	sweeper      *ExpirySweeper
}

type ServiceDependencies struct {
	Logger               Logger
	LoggerProvider       LoggerProvider
	MetricsRecorder      MetricsRecorder
	ErrorMapper          ErrorMapper
	ConfigProvider       ConfigProvider
	OptionsResolver      OptionsResolver
	Store                Store
	EventEmitter         EventEmitter
	LeaderLocker         LeaderLocker
	CertificateRequester CertificateRequester
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("creditlots", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("creditlots"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = engineErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.outboxStore != nil {
		builder.emitter = NewOutboxEmitter(builder.outboxStore, logger)
	}
	if builder.emitter == nil {
		builder.emitter = NopEmitter{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}
	if builder.idGenerator == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: id generator is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.store == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			stores, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if stores != nil {
				builder.store = stores.Store()
			}
		} else if stores, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.store = stores.Store()
		}
	}
	if builder.store == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: store is required"))
	}

	svc := &Service{
		config:               finalConfig,
		logger:               logger,
		loggerProvider:       provider,
		metricsRecorder:      builder.metricsRecorder,
		errorMapper:          builder.errorMapper,
		configProvider:       builder.configProvider,
		optionsResolver:      builder.optionsResolver,
		store:                builder.store,
		emitter:              builder.emitter,
		leaderLocker:         builder.leaderLocker,
		certificateRequester: builder.certificateRequester,
		now:                  builder.clock,
		newID:                builder.idGenerator,
	}
	svc.lots = &LotRegistry{svc: svc}
	svc.reservations = &ReservationManager{svc: svc}
	svc.orders = &OrderController{svc: svc}
	svc.sweeper = &ExpirySweeper{svc: svc}
	return svc, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:               s.logger,
		LoggerProvider:       s.loggerProvider,
		MetricsRecorder:      s.metricsRecorder,
		ErrorMapper:          s.errorMapper,
		ConfigProvider:       s.configProvider,
		OptionsResolver:      s.optionsResolver,
		Store:                s.store,
		EventEmitter:         s.emitter,
		LeaderLocker:         s.leaderLocker,
		CertificateRequester: s.certificateRequester,
	}
}

func (s *Service) Lots() *LotRegistry { return s.lots }

func (s *Service) Reservations() *ReservationManager { return s.reservations }

func (s *Service) Orders() *OrderController { return s.orders }

func (s *Service) Sweeper() *ExpirySweeper { return s.sweeper }

func (s *Service) CreateHold(ctx context.Context, req CreateHoldRequest) (Hold, error) {
	return s.reservations.CreateHold(ctx, req)
}

func (s *Service) CancelHold(ctx context.Context, holdID string, requester Actor) error {
	return s.reservations.CancelHold(ctx, holdID, requester)
}

func (s *Service) ConvertHold(ctx context.Context, holdID string, requester Actor) (PurchaseOrder, error) {
	return s.reservations.ConvertHold(ctx, holdID, requester)
}

func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (PurchaseOrder, error) {
	return s.orders.Checkout(ctx, req)
}

func (s *Service) RecordPaymentInitiated(ctx context.Context, orderID string, actor Actor) (PurchaseOrder, error) {
	return s.orders.RecordPaymentInitiated(ctx, orderID, actor)
}

func (s *Service) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (PaymentResult, error) {
	return s.orders.ConfirmPayment(ctx, req)
}

func (s *Service) SetBrokerStatus(ctx context.Context, req SetBrokerStatusRequest) (PurchaseOrder, error) {
	return s.orders.SetBrokerStatus(ctx, req)
}

func (s *Service) Settle(ctx context.Context, orderID string, actor Actor) (SettleResult, error) {
	return s.orders.Settle(ctx, orderID, actor)
}

func (s *Service) CancelOrder(ctx context.Context, orderID string, reason string, actor Actor) (PurchaseOrder, error) {
	return s.orders.Cancel(ctx, orderID, reason, actor)
}

func (s *Service) SweepOnce(ctx context.Context) (SweepReport, error) {
	return s.sweeper.SweepOnce(ctx)
}

// NewOutboxDispatcher drains store into registry using the outbox settings of
// the resolved config.
func (s *Service) NewOutboxDispatcher(store OutboxStore, registry SinkRegistry) (*OutboxDispatcher, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	return NewOutboxDispatcher(store, registry, s.config.Outbox.dispatcherConfig(), WithDispatchClock(s.clock))
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

// complete maps err into the engine envelope and records the operation.
func (s *Service) complete(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) error {
	err = s.mapError(err)
	s.observeOperation(ctx, startedAt, operation, err, fields)
	return err
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// inTx runs fn in a single store transaction and emits the collected events
// only after commit.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx, events *eventBatch) error) error {
	batch := &eventBatch{}
	if err := s.store.RunInTx(ctx, func(ctx context.Context, tx StoreTx) error {
		return fn(ctx, tx, batch)
	}); err != nil {
		return err
	}
	s.emit(ctx, batch.events)
	return nil
}

// inCapacityTx is inTx for operations that write a lot row. A lost CAS race
// reruns the whole transaction against a fresh read; when the attempts run out
// nothing has been committed and CONFLICT_RETRY is returned.
func (s *Service) inCapacityTx(ctx context.Context, lotID string, fn func(ctx context.Context, tx StoreTx, events *eventBatch) error) error {
	attempts := s.config.ConflictRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.inTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.recordCounter(ctx, MetricCapacityConflicts, 1, map[string]string{"lot_id": lotID})
	}
	return conflictRetryError(lotID, attempts)
}

type eventBatch struct {
	events []Event
}

func (b *eventBatch) add(event Event) {
	b.events = append(b.events, event)
}

func (s *Service) emit(ctx context.Context, events []Event) {
	if s.emitter == nil {
		return
	}
	for _, event := range events {
		s.emitter.Emit(ctx, event)
	}
}

func (s *Service) newEvent(name string, entityType string, entityID string, lotID string, actor Actor, amount int64, payload map[string]any) Event {
	return Event{
		ID:         s.newID(),
		Name:       name,
		EntityType: entityType,
		EntityID:   entityID,
		LotID:      lotID,
		ActorID:    actor.ID,
		AmountUSD:  amount,
		OccurredAt: s.clock(),
		Payload:    copyAnyMap(payload),
		Metadata:   map[string]any{"actor_role": string(actor.Role)},
	}
}

func requireID(value string, field string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", goerrors.NewValidation("core: "+field+" is required",
			goerrors.FieldError{Field: field, Message: "required"},
		).WithCode(engineHTTPStatus(goerrors.CategoryValidation)).WithTextCode(ErrorBadInput)
	}
	return value, nil
}

func requireActor(actor Actor) error {
	if strings.TrimSpace(actor.ID) == "" {
		return badInput("core: actor id is required")
	}
	switch actor.Role {
	case ActorRoleBuyer, ActorRoleBroker, ActorRoleAdmin, ActorRoleSystem:
		return nil
	default:
		return badInput(fmt.Sprintf("core: actor role %q is invalid", actor.Role))
	}
}
