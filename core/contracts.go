package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
)

var (
	ErrLotNotFound          = errors.New("core: lot not found")
	ErrHoldNotFound         = errors.New("core: hold not found")
	ErrOrderNotFound        = errors.New("core: order not found")
	ErrPaymentNotFound      = errors.New("core: payment confirmation not found")
	ErrVersionConflict      = errors.New("core: lot version conflict")
	ErrDuplicateExternalRef = errors.New("core: payment external ref already recorded")
	ErrLeaderLockHeld       = errors.New("core: leader lock already held")
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type LotStore interface {
	CreateLot(ctx context.Context, lot CreditLot) error
	GetLot(ctx context.Context, id string) (CreditLot, error)
	ListLots(ctx context.Context, filter LotFilter) ([]CreditLot, error)
	// SwapLot persists next only while the stored version equals expectedVersion,
	// returning ErrVersionConflict otherwise. next.Version is written as given.
	SwapLot(ctx context.Context, next CreditLot, expectedVersion int64) error
}

type HoldStore interface {
	CreateHold(ctx context.Context, hold Hold) error
	GetHold(ctx context.Context, id string) (Hold, error)
	ListHolds(ctx context.Context, filter HoldFilter) ([]Hold, error)
	// TransitionHold moves an ACTIVE hold to a terminal status. It reports false
	// without error when the hold is no longer ACTIVE.
	TransitionHold(ctx context.Context, id string, to HoldStatus, orderID string, at time.Time) (bool, error)
}

// OrderTransition is a conditional order update: it applies only while the stored
// status is one of From and, when FromBroker is set, the broker status is one of FromBroker.
type OrderTransition struct {
	OrderID              string
	From                 []OrderStatus
	FromBroker           []BrokerStatus
	To                   OrderStatus
	Broker               *BrokerStatus
	BrokerNote           *string
	PaymentRef           string
	AmountPaid           *decimal.Decimal
	CertificateRequestID string
	CancelReason         string
	At                   time.Time
}

// Allows reports whether the transition's guard matches order.
func (t OrderTransition) Allows(order PurchaseOrder) bool {
	if !containsOrderStatus(t.From, order.Status) {
		return false
	}
	if len(t.FromBroker) > 0 {
		for _, status := range t.FromBroker {
			if status == order.BrokerStatus {
				return true
			}
		}
		return false
	}
	return true
}

// Apply returns order with the transition written onto it, stamping the
// timestamp that belongs to the target status and bumping the revision.
func (t OrderTransition) Apply(order PurchaseOrder) PurchaseOrder {
	at := t.At.UTC()
	order.Status = t.To
	if t.Broker != nil {
		order.BrokerStatus = *t.Broker
	}
	if t.BrokerNote != nil {
		order.BrokerNote = *t.BrokerNote
	}
	if t.PaymentRef != "" {
		order.PaymentRef = t.PaymentRef
	}
	if t.AmountPaid != nil {
		order.AmountPaid = *t.AmountPaid
	}
	if t.CertificateRequestID != "" {
		order.CertificateRequestID = t.CertificateRequestID
	}
	if t.CancelReason != "" {
		order.CancelReason = t.CancelReason
	}
	switch t.To {
	case OrderStatusPaymentPending:
		order.PaymentInitiatedAt = &at
	case OrderStatusPaid:
		if order.PaidAt == nil {
			order.PaidAt = &at
		}
	case OrderStatusSettled:
		order.SettledAt = &at
	case OrderStatusCancelled:
		order.CancelledAt = &at
	}
	order.UpdatedAt = at
	order.Revision++
	return order
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order PurchaseOrder) error
	GetOrder(ctx context.Context, id string) (PurchaseOrder, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]PurchaseOrder, error)
	TransitionOrder(ctx context.Context, transition OrderTransition) (bool, error)
}

type PaymentLedger interface {
	// RecordPayment inserts a confirmation, returning ErrDuplicateExternalRef when
	// the external reference was already recorded.
	RecordPayment(ctx context.Context, payment PaymentConfirmation) error
	GetPayment(ctx context.Context, externalRef string) (PaymentConfirmation, error)
}

// ReleaseMarker flips the release-performed flag of a hold or order. It reports
// false when the flag was already set.
type ReleaseMarker interface {
	MarkReleased(ctx context.Context, releaser ReleaserRef) (bool, error)
}

type StoreTx interface {
	LotStore
	HoldStore
	OrderStore
	PaymentLedger
	ReleaseMarker
}

type Store interface {
	StoreTx
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error
}

type StoreProvider interface {
	Store() Store
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

type LeaderLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type EventSink interface {
	Handle(ctx context.Context, event Event) error
}

type EventSinkFunc func(ctx context.Context, event Event) error

func (f EventSinkFunc) Handle(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type SinkRegistry interface {
	Register(name string, sink EventSink)
	Sinks() []EventSink
}

type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

type OutboxStore interface {
	Enqueue(ctx context.Context, event Event) error
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	Ack(ctx context.Context, eventID string) error
	Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

type EventDispatcher interface {
	DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error)
}

// CertificateRequester hands a settled order to the external certificate generator.
type CertificateRequester interface {
	RequestCertificate(ctx context.Context, order PurchaseOrder, requestID string) error
}

type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// JobExecutionMessage is a queued maintenance run: a sweep pass or an outbox
// dispatch batch. Parameters carry job specific knobs such as batch_size.
type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
