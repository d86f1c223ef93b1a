package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	EventHoldCreated         = "HOLD_CREATED"
	EventHoldExpired         = "HOLD_EXPIRED"
	EventHoldCancelled       = "HOLD_CANCELLED"
	EventOrderCreated        = "ORDER_CREATED"
	EventPaymentInitiated    = "PAYMENT_INITIATED"
	EventPaymentConfirmed    = "PAYMENT_CONFIRMED"
	EventBrokerStatusChanged = "BROKER_STATUS_CHANGED"
	EventOrderSettled        = "ORDER_SETTLED"
	EventOrderCancelled      = "ORDER_CANCELLED"
	EventLotStatusChanged    = "LOT_STATUS_CHANGED"
)

const (
	EntityLot   = "lot"
	EntityHold  = "hold"
	EntityOrder = "order"
)

// Event is a post-commit record of a lifecycle transition.
type Event struct {
	ID         string
	Name       string
	EntityType string
	EntityID   string
	LotID      string
	ActorID    string
	AmountUSD  int64
	OccurredAt time.Time
	Payload    map[string]any
	Metadata   map[string]any
}

type MemorySinkRegistry struct {
	mu    sync.RWMutex
	sinks map[string]EventSink
	order []string
}

func NewSinkRegistry() *MemorySinkRegistry {
	return &MemorySinkRegistry{
		sinks: make(map[string]EventSink),
		order: make([]string, 0),
	}
}

func (r *MemorySinkRegistry) Register(name string, sink EventSink) {
	if r == nil || sink == nil {
		return
	}
	key := strings.TrimSpace(name)
	if key == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sinks == nil {
		r.sinks = make(map[string]EventSink)
	}
	if _, exists := r.sinks[key]; !exists {
		r.order = append(r.order, key)
		sort.Strings(r.order)
	}
	r.sinks[key] = sink
}

func (r *MemorySinkRegistry) Sinks() []EventSink {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventSink, 0, len(r.order))
	for _, key := range r.order {
		if sink := r.sinks[key]; sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}

// OutboxEmitter persists events for the OutboxDispatcher. Enqueue failures are
// logged and never surface to the caller.
type OutboxEmitter struct {
	store  OutboxStore
	logger Logger
}

func NewOutboxEmitter(store OutboxStore, logger Logger) *OutboxEmitter {
	return &OutboxEmitter{store: store, logger: logger}
}

func (e *OutboxEmitter) Emit(ctx context.Context, event Event) {
	if e == nil || e.store == nil {
		return
	}
	if err := e.store.Enqueue(ctx, event); err != nil && e.logger != nil {
		e.logger.Error("event enqueue failed", "event_id", event.ID, "event_name", event.Name, "error", err)
	}
}

const (
	defaultEmitterAttempts = 3
	defaultEmitterBackoff  = 100 * time.Millisecond
)

// AsyncEmitter hands every event to the registered sinks on its own goroutine,
// retrying each sink a bounded number of times.
type AsyncEmitter struct {
	registry SinkRegistry
	logger   Logger
	attempts int
	backoff  time.Duration
	wg       sync.WaitGroup
	sleep    func(ctx context.Context, delay time.Duration) error
}

func NewAsyncEmitter(registry SinkRegistry, logger Logger) *AsyncEmitter {
	return &AsyncEmitter{
		registry: registry,
		logger:   logger,
		attempts: defaultEmitterAttempts,
		backoff:  defaultEmitterBackoff,
		sleep:    sleepWithContext,
	}
}

func (e *AsyncEmitter) WithRetry(attempts int, backoff time.Duration) *AsyncEmitter {
	if e == nil {
		return nil
	}
	if attempts > 0 {
		e.attempts = attempts
	}
	if backoff >= 0 {
		e.backoff = backoff
	}
	return e
}

func (e *AsyncEmitter) Emit(ctx context.Context, event Event) {
	if e == nil || e.registry == nil {
		return
	}
	sinks := e.registry.Sinks()
	if len(sinks) == 0 {
		return
	}
	// the request context may be cancelled as soon as the caller returns
	deliveryCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for _, sink := range sinks {
			e.deliver(deliveryCtx, sink, event)
		}
	}()
}

// Wait blocks until every in-flight delivery has finished.
func (e *AsyncEmitter) Wait() {
	if e == nil {
		return
	}
	e.wg.Wait()
}

func (e *AsyncEmitter) deliver(ctx context.Context, sink EventSink, event Event) {
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		lastErr = sink.Handle(ctx, event)
		if lastErr == nil {
			return
		}
		if attempt < e.attempts && e.backoff > 0 {
			if err := e.sleep(ctx, e.backoff*time.Duration(attempt)); err != nil {
				break
			}
		}
	}
	if e.logger != nil {
		e.logger.Error("event delivery failed",
			"event_id", event.ID,
			"event_name", event.Name,
			"attempts", e.attempts,
			"error", ExternalDependencyError(lastErr, fmt.Sprintf("core: sink rejected event %s", event.Name)),
		)
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ SinkRegistry = (*MemorySinkRegistry)(nil)
	_ EventEmitter = NopEmitter{}
	_ EventEmitter = (*OutboxEmitter)(nil)
	_ EventEmitter = (*AsyncEmitter)(nil)
)
