package core_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-creditlots/core"
	glog "github.com/goliatone/go-logger/glog"
	memorystore "github.com/goliatone/go-creditlots/store/memory"
	"github.com/shopspring/decimal"
)

type quietLogger struct{}

func (quietLogger) Trace(string, ...any)                      {}
func (quietLogger) Debug(string, ...any)                      {}
func (quietLogger) Info(string, ...any)                       {}
func (quietLogger) Warn(string, ...any)                       {}
func (quietLogger) Error(string, ...any)                      {}
func (quietLogger) Fatal(string, ...any)                      {}
func (l quietLogger) WithContext(context.Context) core.Logger { return l }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []core.Event
}

func (e *recordingEmitter) Emit(_ context.Context, event core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, event := range e.events {
		if event.Name == name {
			total++
		}
	}
	return total
}

type stubCertificateRequester struct {
	requestFn func(ctx context.Context, order core.PurchaseOrder, requestID string) error
}

func (s stubCertificateRequester) RequestCertificate(ctx context.Context, order core.PurchaseOrder, requestID string) error {
	if s.requestFn == nil {
		return nil
	}
	return s.requestFn(ctx, order, requestID)
}

// conflictingStore loses every lot compare-and-swap.
type conflictingStore struct {
	core.Store
	swaps atomic.Int64
}

func (s *conflictingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx core.StoreTx) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx core.StoreTx) error {
		return fn(ctx, conflictingTx{StoreTx: tx, swaps: &s.swaps})
	})
}

type conflictingTx struct {
	core.StoreTx
	swaps *atomic.Int64
}

func (t conflictingTx) SwapLot(context.Context, core.CreditLot, int64) error {
	t.swaps.Add(1)
	return core.ErrVersionConflict
}

type engine struct {
	svc     *core.Service
	store   *memorystore.Store
	clock   *testClock
	events  *recordingEmitter
	counter atomic.Int64
}

func newEngine(t *testing.T, mutate func(cfg *core.Config), opts ...core.Option) *engine {
	t.Helper()
	e := &engine{
		store:  memorystore.New(),
		clock:  newTestClock(),
		events: &recordingEmitter{},
	}
	cfg := core.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	base := []core.Option{
		core.WithLogger(quietLogger{}),
		core.WithLoggerProvider(glog.ProviderFromLogger(quietLogger{})),
		core.WithStore(e.store),
		core.WithClock(e.clock.Now),
		core.WithEventEmitter(e.events),
		core.WithIDGenerator(func() string { return fmt.Sprintf("id-%04d", e.counter.Add(1)) }),
	}
	svc, err := core.NewService(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	e.svc = svc
	return e
}

func (e *engine) seedLot(t *testing.T, id string, total int64, minBlock int64, price string) core.CreditLot {
	t.Helper()
	now := e.clock.Now()
	lot := core.CreditLot{
		ID:                 id,
		BrokerID:           "broker-1",
		CreditType:         "ITC",
		TaxYear:            2025,
		Jurisdiction:       "NY",
		TotalFaceValue:     total,
		AvailableFaceValue: total,
		MinBlock:           minBlock,
		PricePerDollar:     decimal.RequireFromString(price),
		Status:             core.LotStatusActive,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.store.CreateLot(context.Background(), lot); err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	return lot
}

func (e *engine) available(t *testing.T, lotID string) int64 {
	t.Helper()
	lot, err := e.svc.Lots().GetLot(context.Background(), lotID)
	if err != nil {
		t.Fatalf("get lot: %v", err)
	}
	return lot.AvailableFaceValue
}

func (e *engine) assertBalanced(t *testing.T, lotID string) core.CapacitySummary {
	t.Helper()
	summary, err := e.svc.Lots().CapacitySummary(context.Background(), lotID)
	if err != nil {
		t.Fatalf("capacity summary: %v", err)
	}
	if !summary.Balanced() {
		t.Fatalf("expected balanced capacity, got %+v", summary)
	}
	if summary.Available < 0 || summary.Available > summary.Total {
		t.Fatalf("expected 0 <= available <= total, got %+v", summary)
	}
	return summary
}

// payOrder takes a fresh checkout all the way to PAID.
func (e *engine) payOrder(t *testing.T, lotID string, buyerID string, amount int64, ref string) core.PurchaseOrder {
	t.Helper()
	ctx := context.Background()
	order, err := e.svc.Checkout(ctx, core.CheckoutRequest{LotID: lotID, BuyerID: buyerID, AmountUSD: amount})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := e.svc.RecordPaymentInitiated(ctx, order.ID, buyer(buyerID)); err != nil {
		t.Fatalf("record payment initiated: %v", err)
	}
	result, err := e.svc.ConfirmPayment(ctx, core.ConfirmPaymentRequest{OrderID: order.ID, ExternalRef: ref})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	return result.Order
}

func buyer(id string) core.Actor {
	return core.Actor{ID: id, Role: core.ActorRoleBuyer}
}

var (
	brokerOne = core.Actor{ID: "broker-1", Role: core.ActorRoleBroker}
	adminUser = core.Actor{ID: "admin-1", Role: core.ActorRoleAdmin}
)

func expectCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %s, got nil", code)
	}
	if got := core.TextCode(err); got != code {
		t.Fatalf("expected error %s, got %q (%v)", code, got, err)
	}
}
