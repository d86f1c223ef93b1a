package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-creditlots/core"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type stubWriter struct {
	written []kafka.Message
	err     error
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func testEvent() core.Event {
	return core.Event{
		ID:         "evt-1",
		Name:       core.EventOrderSettled,
		EntityType: core.EntityOrder,
		EntityID:   "ord-1",
		LotID:      "lot-1",
		ActorID:    "broker-1",
		AmountUSD:  50000,
		OccurredAt: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		Payload:    map[string]any{"certificate_request_id": "cert-1"},
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestSink_PublishesKeyedEnvelope(t *testing.T) {
	writer := &stubWriter{}
	sink, err := NewSink(writer, "")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Handle(context.Background(), testEvent()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(writer.written) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.written))
	}
	msg := writer.written[0]
	if msg.Topic != DefaultTopic || string(msg.Key) != "lot-1" {
		t.Fatalf("expected default topic keyed by lot, got %s/%s", msg.Topic, msg.Key)
	}
	if header(msg, HeaderEventName) != core.EventOrderSettled || header(msg, HeaderEventID) != "evt-1" {
		t.Fatalf("expected event headers, got %+v", msg.Headers)
	}
	var envelope Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.EntityID != "ord-1" || envelope.AmountUSD != 50000 || envelope.Payload["certificate_request_id"] != "cert-1" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestSink_InjectsTraceparent(t *testing.T) {
	previous := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(previous)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	sink, _ := NewSink(&stubWriter{}, "audit")
	msg, err := sink.Message(ctx, testEvent())
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if got := header(msg, "traceparent"); got != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Fatalf("expected traceparent header, got %q", got)
	}
	extracted := trace.SpanContextFromContext(ExtractTraceHeaders(context.Background(), msg.Headers))
	if extracted.TraceID() != traceID {
		t.Fatalf("expected extracted trace id %s, got %s", traceID, extracted.TraceID())
	}
}

func TestSink_WriteFailureIsExternal(t *testing.T) {
	sink, _ := NewSink(&stubWriter{err: errors.New("broker down")}, "audit")
	err := sink.Handle(context.Background(), testEvent())
	if !core.HasTextCode(err, core.ErrorExternalDependency) {
		t.Fatalf("expected %s, got %v", core.ErrorExternalDependency, err)
	}
	if _, err := NewSink(nil, ""); err == nil {
		t.Fatalf("expected nil writer to be rejected")
	}
}
