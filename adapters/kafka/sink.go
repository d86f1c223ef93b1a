// Package kafka publishes lifecycle events to a Kafka topic, keyed by lot so
// that a consumer sees each lot's events in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-creditlots/core"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	DefaultTopic = "creditlots.lifecycle"

	HeaderEventName = "event_name"
	HeaderEventID   = "event_id"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Envelope is the JSON value written for every event.
type Envelope struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	LotID      string         `json:"lot_id,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	AmountUSD  int64          `json:"amount_usd,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type Sink struct {
	writer MessageWriter
	topic  string
}

var _ core.EventSink = (*Sink)(nil)

// NewWriter hashes message keys to partitions and waits for all in-sync
// replicas.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func NewSink(writer MessageWriter, topic string) (*Sink, error) {
	if writer == nil {
		return nil, fmt.Errorf("kafka: message writer is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	return &Sink{writer: writer, topic: topic}, nil
}

func (s *Sink) Handle(ctx context.Context, event core.Event) error {
	if s == nil || s.writer == nil {
		return fmt.Errorf("kafka: sink is not configured")
	}
	msg, err := s.Message(ctx, event)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return core.ExternalDependencyError(err, "kafka: publish "+event.Name+" failed")
	}
	return nil
}

// Message encodes event with the trace context of ctx in its headers.
func (s *Sink) Message(ctx context.Context, event core.Event) (kafka.Message, error) {
	value, err := json.Marshal(Envelope{
		ID:         event.ID,
		Name:       event.Name,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		LotID:      event.LotID,
		ActorID:    event.ActorID,
		AmountUSD:  event.AmountUSD,
		OccurredAt: event.OccurredAt.UTC(),
		Payload:    event.Payload,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: encode event %s: %w", event.ID, err)
	}
	key := event.LotID
	if key == "" {
		key = event.EntityID
	}
	headers := []kafka.Header{
		{Key: HeaderEventName, Value: []byte(event.Name)},
		{Key: HeaderEventID, Value: []byte(event.ID)},
	}
	return kafka.Message{
		Topic:   s.topic,
		Key:     []byte(key),
		Value:   value,
		Headers: InjectTraceHeaders(ctx, headers),
		Time:    event.OccurredAt.UTC(),
	}, nil
}

func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for key, value := range carrier {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	return headers
}

func ExtractTraceHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range headers {
		carrier[header.Key] = string(header.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
