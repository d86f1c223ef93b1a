package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSinkRegistry_OrdersByName(t *testing.T) {
	registry := NewSinkRegistry()
	var calls []string
	for _, name := range []string{"kafka", "audit", " "} {
		name := name
		registry.Register(name, EventSinkFunc(func(context.Context, Event) error {
			calls = append(calls, name)
			return nil
		}))
	}
	registry.Register("nil", nil)

	sinks := registry.Sinks()
	if len(sinks) != 2 {
		t.Fatalf("expected blank and nil sinks to be ignored, got %d", len(sinks))
	}
	for _, sink := range sinks {
		_ = sink.Handle(context.Background(), Event{})
	}
	if calls[0] != "audit" || calls[1] != "kafka" {
		t.Fatalf("expected name order, got %v", calls)
	}
}

func TestAsyncEmitter_RetriesThenSucceeds(t *testing.T) {
	registry := NewSinkRegistry()
	var (
		mu       sync.Mutex
		attempts int
	)
	registry.Register("flaky", EventSinkFunc(func(context.Context, Event) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errSinkUnavailable
		}
		return nil
	}))

	rec := newRecording()
	emitter := NewAsyncEmitter(registry, rec.logger()).WithRetry(3, time.Millisecond)
	emitter.sleep = func(context.Context, time.Duration) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	emitter.Emit(ctx, Event{ID: "evt_1", Name: EventHoldCreated})
	cancel()
	emitter.Wait()

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	for _, record := range rec.snapshot() {
		if record.level == "error" {
			t.Fatalf("expected no delivery failure log, got %+v", record)
		}
	}
}

func TestAsyncEmitter_LogsExhaustedDelivery(t *testing.T) {
	registry := NewSinkRegistry()
	registry.Register("down", EventSinkFunc(func(context.Context, Event) error {
		return errSinkUnavailable
	}))
	rec := newRecording()
	emitter := NewAsyncEmitter(registry, rec.logger()).WithRetry(2, 0)

	emitter.Emit(context.Background(), Event{ID: "evt_2", Name: EventOrderCancelled})
	emitter.Wait()

	records := rec.snapshot()
	if len(records) != 1 || records[0].level != "error" || records[0].msg != "event delivery failed" {
		t.Fatalf("expected one delivery failure log, got %+v", records)
	}
	if records[0].fields["event_id"] != "evt_2" || records[0].fields["attempts"] != 2 {
		t.Fatalf("expected event fields on failure log, got %#v", records[0].fields)
	}
}
