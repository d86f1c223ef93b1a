package memorystore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-creditlots/core"
	memorystore "github.com/goliatone/go-creditlots/store/memory"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/shopspring/decimal"
)

func TestOutboxStore_DispatchRetriesThenAcks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	outbox := memorystore.NewOutboxStore()
	outbox.Now = clock

	svc, err := core.NewService(core.DefaultConfig(),
		core.WithLogger(glog.Nop()),
		core.WithStore(memorystore.New()),
		core.WithOutbox(outbox),
		core.WithClock(clock),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	broker := core.Actor{ID: "broker-1", Role: core.ActorRoleBroker}
	lot, err := svc.Lots().CreateLot(ctx, core.CreateLotRequest{
		BrokerID:       "broker-1",
		CreditType:     "ITC",
		TaxYear:        2025,
		Jurisdiction:   "NY",
		TotalFaceValue: 500000,
		MinBlock:       10000,
		PricePerDollar: decimal.RequireFromString("0.92"),
	}, broker)
	if err != nil {
		t.Fatalf("create lot: %v", err)
	}
	if _, err := svc.Lots().PublishLot(ctx, lot.ID, broker); err != nil {
		t.Fatalf("publish lot: %v", err)
	}
	if _, err := svc.CreateHold(ctx, core.CreateHoldRequest{LotID: lot.ID, BuyerID: "buyer-1", AmountUSD: 20000}); err != nil {
		t.Fatalf("create hold: %v", err)
	}

	failing := true
	var delivered []string
	registry := core.NewSinkRegistry()
	registry.Register("audit", core.EventSinkFunc(func(_ context.Context, event core.Event) error {
		if failing && event.Name == core.EventHoldCreated {
			return errors.New("audit sink offline")
		}
		delivered = append(delivered, event.Name)
		return nil
	}))
	dispatcher, err := core.NewOutboxDispatcher(outbox, registry, core.OutboxDispatcherConfig{
		BatchSize:      10,
		MaxAttempts:    3,
		InitialBackoff: time.Minute,
		MaxBackoff:     time.Hour,
	}, core.WithDispatchClock(clock))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	stats, err := dispatcher.DispatchPending(ctx, 10)
	if err == nil {
		t.Fatalf("expected the failing sink to surface an error")
	}
	if stats.Retried != 1 || stats.Delivered < 1 {
		t.Fatalf("expected one retry and the lot events delivered, got %+v", stats)
	}

	for _, name := range delivered {
		if name == core.EventHoldCreated {
			t.Fatalf("expected HOLD_CREATED to be held back, got %v", delivered)
		}
	}
	claimed, err := outbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected the retried event to wait for its backoff, got %d claimed", len(claimed))
	}

	now = now.Add(2 * time.Minute)
	failing = false
	stats, err = dispatcher.DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if stats.Claimed != 1 || stats.Delivered != 1 {
		t.Fatalf("expected the hold event to be redelivered, got %+v", stats)
	}
	if delivered[len(delivered)-1] != core.EventHoldCreated {
		t.Fatalf("expected HOLD_CREATED last, got %v", delivered)
	}
}

func TestOutboxStore_RetryWithZeroTimeParksEvent(t *testing.T) {
	ctx := context.Background()
	outbox := memorystore.NewOutboxStore()
	if err := outbox.Enqueue(ctx, core.Event{ID: "evt-1", Name: core.EventOrderCreated}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := outbox.Enqueue(ctx, core.Event{ID: "evt-1", Name: core.EventOrderCreated}); err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	claimed, err := outbox.ClaimBatch(ctx, 5)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one claimed event, got %d", len(claimed))
	}
	if attempts, _ := claimed[0].Metadata[core.MetadataKeyOutboxAttempts].(int); attempts != 0 {
		t.Fatalf("expected zero prior attempts, got %v", claimed[0].Metadata[core.MetadataKeyOutboxAttempts])
	}
	if err := outbox.Retry(ctx, "evt-1", errors.New("sink down"), time.Time{}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	status, attempts, ok := outbox.Status("evt-1")
	if !ok || status != memorystore.OutboxStatusFailed || attempts != 1 {
		t.Fatalf("expected failed after one attempt, got %q %d %v", status, attempts, ok)
	}
	if err := outbox.Ack(ctx, "missing"); err == nil {
		t.Fatalf("expected ack of an unknown event to fail")
	}
}
