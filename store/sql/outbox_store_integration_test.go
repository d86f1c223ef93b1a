package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-creditlots/core"
	sqlstore "github.com/goliatone/go-creditlots/store/sql"
)

func TestOutboxStore_ClaimAckRetryLifecycle(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	outbox, err := sqlstore.NewOutboxStore(client.DB())
	if err != nil {
		t.Fatalf("new outbox store: %v", err)
	}
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"evt-first", "evt-second"} {
		if err := outbox.Enqueue(ctx, core.Event{
			ID:         id,
			Name:       core.EventHoldCreated,
			EntityType: core.EntityHold,
			EntityID:   "hold-" + id,
			LotID:      "lot-1",
			ActorID:    "buyer-a",
			AmountUSD:  100000,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
			Payload:    map[string]any{"expires_at": "2026-03-05T09:00:00Z"},
		}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	claimed, err := outbox.ClaimBatch(ctx, 1)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "evt-first" {
		t.Fatalf("expected oldest event claimed first, got %+v", claimed)
	}
	if claimed[0].LotID != "lot-1" || claimed[0].AmountUSD != 100000 || claimed[0].Payload["expires_at"] != "2026-03-05T09:00:00Z" {
		t.Fatalf("expected event fields to round-trip, got %+v", claimed[0])
	}
	if err := outbox.Ack(ctx, "evt-first"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	claimed, err = outbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "evt-second" {
		t.Fatalf("expected second event, got %+v", claimed)
	}
	if err := outbox.Retry(ctx, "evt-second", errors.New("sink down"), time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	claimed, err = outbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch after retry: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected retried event to be claimable, got %d", len(claimed))
	}
	if attempts, ok := claimed[0].Metadata[core.MetadataKeyOutboxAttempts].(int); !ok || attempts != 1 {
		t.Fatalf("expected attempts metadata 1, got %#v", claimed[0].Metadata[core.MetadataKeyOutboxAttempts])
	}
	if err := outbox.Retry(ctx, "evt-second", errors.New("sink down"), time.Time{}); err != nil {
		t.Fatalf("retry to failed: %v", err)
	}

	status, attempts, err := outbox.Status(ctx, "evt-second")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != "failed" || attempts != 2 {
		t.Fatalf("expected failed after 2 attempts, got %s/%d", status, attempts)
	}
	if status, _, err := outbox.Status(ctx, "evt-first"); err != nil || status != "delivered" {
		t.Fatalf("expected first event delivered, got %q err=%v", status, err)
	}
	claimed, err = outbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("final claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected nothing left to claim, got %d", len(claimed))
	}
}

func TestOutboxStore_DispatcherDeliversThroughSinks(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	outbox, err := sqlstore.NewOutboxStore(client.DB())
	if err != nil {
		t.Fatalf("new outbox store: %v", err)
	}
	ctx := context.Background()
	if err := outbox.Enqueue(ctx, core.Event{ID: "evt-dispatch", Name: core.EventOrderSettled, LotID: "lot-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var delivered []string
	registry := core.NewSinkRegistry()
	registry.Register("capture", core.EventSinkFunc(func(_ context.Context, event core.Event) error {
		delivered = append(delivered, event.ID)
		return nil
	}))
	dispatcher, err := core.NewOutboxDispatcher(outbox, registry, core.OutboxDispatcherConfig{})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	stats, err := dispatcher.DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Claimed != 1 || stats.Delivered != 1 {
		t.Fatalf("expected one delivered event, got %+v", stats)
	}
	if len(delivered) != 1 || delivered[0] != "evt-dispatch" {
		t.Fatalf("expected sink to see evt-dispatch, got %v", delivered)
	}
}

func TestOutboxStore_EnqueueIsIdempotentPerEventID(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	outbox, err := sqlstore.NewOutboxStore(client.DB())
	if err != nil {
		t.Fatalf("new outbox store: %v", err)
	}
	ctx := context.Background()
	event := core.Event{ID: "evt-replayed", Name: core.EventOrderCreated, LotID: "lot-1"}
	for range 2 {
		if err := outbox.Enqueue(ctx, event); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	claimed, err := outbox.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected a single row for a replayed event, got %d", len(claimed))
	}
	if err := outbox.Ack(ctx, "evt-unknown"); err == nil {
		t.Fatalf("expected ack of an unknown event to fail")
	}
	if err := outbox.Enqueue(ctx, core.Event{ID: "evt-nameless"}); err == nil {
		t.Fatalf("expected an event without a name to be rejected")
	}
}
