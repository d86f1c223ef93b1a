package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MetadataKeyOutboxAttempts carries the prior delivery attempts of a claimed
// outbox event. Outbox stores set it on every claimed event.
const MetadataKeyOutboxAttempts = "_outbox_attempts"

type OutboxDispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultOutboxDispatcherConfig() OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		BatchSize:      50,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

func (c OutboxDispatcherConfig) withDefaults() OutboxDispatcherConfig {
	defaults := DefaultOutboxDispatcherConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	return c
}

type DispatcherOption func(*OutboxDispatcher)

// WithDispatchClock sets the clock retry times are computed from. A service
// built dispatcher uses the service clock.
func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *OutboxDispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// OutboxDispatcher moves persisted lifecycle events to every registered sink.
// An event is acked only once all sinks accept it. A failing event is
// rescheduled with doubling backoff, and after MaxAttempts it is parked by
// retrying with a zero time.
type OutboxDispatcher struct {
	store    OutboxStore
	registry SinkRegistry
	config   OutboxDispatcherConfig
	now      func() time.Time
}

func NewOutboxDispatcher(store OutboxStore, registry SinkRegistry, config OutboxDispatcherConfig, opts ...DispatcherOption) (*OutboxDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: outbox store is required")
	}
	d := &OutboxDispatcher{
		store:    store,
		registry: registry,
		config:   config.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

func (d *OutboxDispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: outbox dispatcher is not configured")
	}
	if batchSize <= 0 {
		batchSize = d.config.BatchSize
	}
	events, err := d.store.ClaimBatch(ctx, batchSize)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(events)}
	var errs []error
	for _, event := range events {
		eventID := strings.TrimSpace(event.ID)
		deliverErr := d.deliver(ctx, event)
		if deliverErr == nil {
			if err := d.store.Ack(ctx, eventID); err != nil {
				errs = append(errs, err)
				continue
			}
			stats.Delivered++
			continue
		}

		errs = append(errs, deliverErr)
		attempt := attemptsFromMetadata(event) + 1
		next := time.Time{}
		if attempt < d.config.MaxAttempts {
			next = d.now().Add(d.backoff(attempt))
			stats.Retried++
		} else {
			stats.Failed++
		}
		if err := d.store.Retry(ctx, eventID, deliverErr, next); err != nil {
			errs = append(errs, err)
		}
	}
	return stats, errors.Join(errs...)
}

func (d *OutboxDispatcher) deliver(ctx context.Context, event Event) error {
	if d.registry == nil {
		return nil
	}
	for i, sink := range d.registry.Sinks() {
		if sink == nil {
			continue
		}
		if err := sink.Handle(ctx, event); err != nil {
			return ExternalDependencyError(err, fmt.Sprintf("core: event sink %d failed for event %q", i, event.ID))
		}
	}
	return nil
}

// backoff doubles InitialBackoff per attempt, capped at MaxBackoff.
func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	delay := d.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay <= 0 || delay >= d.config.MaxBackoff {
			return d.config.MaxBackoff
		}
	}
	return min(delay, d.config.MaxBackoff)
}

// attemptsFromMetadata reads the prior attempt count. SQL stores round-trip
// it through JSON, so numbers may arrive as float64 or string.
func attemptsFromMetadata(event Event) int {
	switch typed := event.Metadata[MetadataKeyOutboxAttempts].(type) {
	case int:
		return max(typed, 0)
	case int64:
		return int(max(typed, 0))
	case float64:
		return int(max(typed, 0))
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(typed)); err == nil {
			return max(parsed, 0)
		}
	}
	return 0
}

var _ EventDispatcher = (*OutboxDispatcher)(nil)
