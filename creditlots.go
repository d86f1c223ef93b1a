package creditlots

import (
	"github.com/goliatone/go-creditlots/core"
	memorystore "github.com/goliatone/go-creditlots/store/memory"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type CreditLot = core.CreditLot
type Hold = core.Hold
type PurchaseOrder = core.PurchaseOrder
type Actor = core.Actor
type Event = core.Event
type CapacitySummary = core.CapacitySummary
type SweepReport = core.SweepReport

type CreateLotRequest = core.CreateLotRequest
type CreateHoldRequest = core.CreateHoldRequest
type CheckoutRequest = core.CheckoutRequest
type ConfirmPaymentRequest = core.ConfirmPaymentRequest
type SetBrokerStatusRequest = core.SetBrokerStatusRequest

var (
	WithLogger               = core.WithLogger
	WithLoggerProvider       = core.WithLoggerProvider
	WithMetricsRecorder      = core.WithMetricsRecorder
	WithErrorMapper          = core.WithErrorMapper
	WithPersistenceClient    = core.WithPersistenceClient
	WithRepositoryFactory    = core.WithRepositoryFactory
	WithConfigProvider       = core.WithConfigProvider
	WithOptionsResolver      = core.WithOptionsResolver
	WithStore                = core.WithStore
	WithEventEmitter         = core.WithEventEmitter
	WithOutbox               = core.WithOutbox
	WithLeaderLocker         = core.WithLeaderLocker
	WithCertificateRequester = core.WithCertificateRequester
	WithClock                = core.WithClock
	WithIDGenerator          = core.WithIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

// NewInMemoryService builds a service over a fresh process-local store. Later
// options may still replace the store.
func NewInMemoryService(cfg Config, opts ...Option) (*Service, error) {
	base := []Option{core.WithStore(memorystore.New())}
	return core.NewService(cfg, append(base, opts...)...)
}
