package memorystore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-creditlots/core"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusDelivered  = "delivered"
	OutboxStatusFailed     = "failed"
)

type outboxEntry struct {
	event         core.Event
	status        string
	attempts      int
	nextAttemptAt time.Time
	lastError     string
	sequence      int
}

// OutboxStore is an in-process core.OutboxStore for tests and single-node runs.
type OutboxStore struct {
	mu       sync.Mutex
	entries  map[string]*outboxEntry
	sequence int
	Now      func() time.Time
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{entries: map[string]*outboxEntry{}}
}

func (s *OutboxStore) Enqueue(_ context.Context, event core.Event) error {
	id := strings.TrimSpace(event.ID)
	if id == "" {
		return fmt.Errorf("memorystore: outbox event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; exists {
		return nil
	}
	s.sequence++
	s.entries[id] = &outboxEntry{
		event:         event,
		status:        OutboxStatusPending,
		nextAttemptAt: s.now(),
		sequence:      s.sequence,
	}
	return nil
}

func (s *OutboxStore) ClaimBatch(_ context.Context, limit int) ([]core.Event, error) {
	if limit <= 0 {
		return []core.Event{}, nil
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := make([]*outboxEntry, 0)
	for _, entry := range s.entries {
		if entry.status == OutboxStatusPending && !entry.nextAttemptAt.After(now) {
			ready = append(ready, entry)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].sequence < ready[j].sequence })
	if len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]core.Event, 0, len(ready))
	for _, entry := range ready {
		entry.status = OutboxStatusProcessing
		event := entry.event
		metadata := make(map[string]any, len(event.Metadata)+1)
		for key, value := range event.Metadata {
			metadata[key] = value
		}
		metadata[core.MetadataKeyOutboxAttempts] = entry.attempts
		event.Metadata = metadata
		out = append(out, event)
	}
	return out, nil
}

func (s *OutboxStore) Ack(_ context.Context, eventID string) error {
	return s.update(eventID, func(entry *outboxEntry) {
		entry.status = OutboxStatusDelivered
		entry.lastError = ""
	})
}

// Retry reschedules the event, or parks it as failed when nextAttemptAt is zero.
func (s *OutboxStore) Retry(_ context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	return s.update(eventID, func(entry *outboxEntry) {
		entry.attempts++
		if cause != nil {
			entry.lastError = cause.Error()
		}
		if nextAttemptAt.IsZero() {
			entry.status = OutboxStatusFailed
			return
		}
		entry.status = OutboxStatusPending
		entry.nextAttemptAt = nextAttemptAt.UTC()
	})
}

// Status returns the delivery status and attempt count recorded for eventID.
func (s *OutboxStore) Status(eventID string) (string, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(eventID)]
	if !ok {
		return "", 0, false
	}
	return entry.status, entry.attempts, true
}

func (s *OutboxStore) update(eventID string, fn func(entry *outboxEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(eventID)]
	if !ok {
		return fmt.Errorf("memorystore: outbox event %q not found", eventID)
	}
	fn(entry)
	return nil
}

func (s *OutboxStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.OutboxStore = (*OutboxStore)(nil)
