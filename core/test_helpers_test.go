package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type failingRawLoader struct {
	err error
}

func (l failingRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return nil, l.err
}

// unusedStore satisfies Store for tests that never touch persistence.
type unusedStore struct {
	Store
}

type retriedEvent struct {
	id    string
	cause error
	next  time.Time
}

type stubOutboxStore struct {
	mu       sync.Mutex
	claimed  []Event
	claimErr error
	ackErr   error
	enqueued []Event
	acked    []string
	retried  []retriedEvent
}

func (s *stubOutboxStore) Enqueue(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, event)
	return nil
}

func (s *stubOutboxStore) ClaimBatch(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	if limit > 0 && len(s.claimed) > limit {
		return append([]Event(nil), s.claimed[:limit]...), nil
	}
	return append([]Event(nil), s.claimed...), nil
}

func (s *stubOutboxStore) Ack(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acked = append(s.acked, eventID)
	return nil
}

func (s *stubOutboxStore) Retry(_ context.Context, eventID string, cause error, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried = append(s.retried, retriedEvent{id: eventID, cause: cause, next: next})
	return nil
}

var errSinkUnavailable = errors.New("sink unavailable")

func newTestService(opts ...Option) (*Service, error) {
	base := []Option{
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
		WithStore(unusedStore{}),
	}
	return NewService(DefaultConfig(), append(base, opts...)...)
}
