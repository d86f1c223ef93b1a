package sqlstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-creditlots/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	outboxStatusPending    = "pending"
	outboxStatusProcessing = "processing"
	outboxStatusDelivered  = "delivered"
	outboxStatusFailed     = "failed"
)

// OutboxStore keeps lifecycle events in the lifecycle_outbox table until every
// sink has seen them. Rows move pending -> processing -> delivered, or back to
// pending with a next_attempt_at, or to failed once retries are exhausted.
type OutboxStore struct {
	db   *bun.DB
	repo repository.Repository[*lifecycleOutboxRecord]
	now  func() time.Time
}

func NewOutboxStore(db *bun.DB) (*OutboxStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*lifecycleOutboxRecord](db, outboxHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: outbox repository: %w", err)
		}
	}
	return &OutboxStore{db: db, repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Enqueue stores event as pending. A second enqueue of the same event id is a
// no-op, so a replayed write does not publish twice.
func (s *OutboxStore) Enqueue(ctx context.Context, event core.Event) error {
	if err := s.ready(); err != nil {
		return err
	}
	record, err := s.recordFor(event)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().
		Model(record).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	return err
}

// ClaimBatch moves up to limit due events to processing and returns them in
// occurrence order. The status guard on the update keeps two claimers from
// taking the same row.
func (s *OutboxStore) ClaimBatch(ctx context.Context, limit int) ([]core.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	now := s.now()
	var claimed []lifecycleOutboxRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		due := tx.NewSelect().
			Model((*lifecycleOutboxRecord)(nil)).
			Column("id").
			Where("status = ?", outboxStatusPending).
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("next_attempt_at IS NULL").WhereOr("next_attempt_at <= ?", now)
			}).
			OrderExpr("occurred_at ASC").
			Limit(max(limit, 1))

		_, err := tx.NewUpdate().
			Model((*lifecycleOutboxRecord)(nil)).
			Set("status = ?", outboxStatusProcessing).
			Set("updated_at = ?", now).
			Where("id IN (?)", due).
			Where("status = ?", outboxStatusPending).
			Returning("*").
			Exec(ctx, &claimed)
		return err
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(claimed, func(a, b lifecycleOutboxRecord) int {
		return a.OccurredAt.Compare(b.OccurredAt)
	})
	events := make([]core.Event, len(claimed))
	for i, record := range claimed {
		events[i] = record.event()
	}
	return events, nil
}

func (s *OutboxStore) Ack(ctx context.Context, eventID string) error {
	return s.transition(ctx, eventID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", outboxStatusDelivered).
			Set("last_error = ?", "").
			Set("next_attempt_at = NULL")
	})
}

// Retry counts a failed delivery. The event becomes claimable again at
// nextAttemptAt; a zero nextAttemptAt parks it as failed.
func (s *OutboxStore) Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	status, next := outboxStatusFailed, (*time.Time)(nil)
	if !nextAttemptAt.IsZero() {
		at := nextAttemptAt.UTC()
		status, next = outboxStatusPending, &at
	}
	var lastError string
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	return s.transition(ctx, eventID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", status).
			Set("attempts = attempts + 1").
			Set("next_attempt_at = ?", next).
			Set("last_error = ?", lastError)
	})
}

// Status reports the stored delivery status and attempt count of an event.
func (s *OutboxStore) Status(ctx context.Context, eventID string) (string, int, error) {
	if err := s.ready(); err != nil {
		return "", 0, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("event_id", "=", strings.TrimSpace(eventID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return "", 0, err
	}
	if len(records) == 0 {
		return "", 0, fmt.Errorf("sqlstore: outbox event %q not found", eventID)
	}
	return records[0].Status, records[0].Attempts, nil
}

func (s *OutboxStore) transition(ctx context.Context, eventID string, set func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	if err := s.ready(); err != nil {
		return err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	query := s.db.NewUpdate().
		Model((*lifecycleOutboxRecord)(nil)).
		Set("updated_at = ?", s.now()).
		Where("event_id = ?", eventID)
	res, err := set(query).Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlstore: outbox event %q not found", eventID)
	}
	return nil
}

func (s *OutboxStore) ready() error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	return nil
}

func (s *OutboxStore) recordFor(event core.Event) (*lifecycleOutboxRecord, error) {
	id, name := strings.TrimSpace(event.ID), strings.TrimSpace(event.Name)
	switch {
	case id == "":
		return nil, fmt.Errorf("sqlstore: outbox event id is required")
	case name == "":
		return nil, fmt.Errorf("sqlstore: outbox event name is required")
	}
	now := s.now()
	occurredAt := event.OccurredAt.UTC()
	if event.OccurredAt.IsZero() {
		occurredAt = now
	}
	return &lifecycleOutboxRecord{
		ID:         uuid.NewString(),
		EventID:    id,
		EventName:  name,
		EntityType: strings.TrimSpace(event.EntityType),
		EntityID:   strings.TrimSpace(event.EntityID),
		LotID:      strings.TrimSpace(event.LotID),
		ActorID:    strings.TrimSpace(event.ActorID),
		AmountUSD:  event.AmountUSD,
		Payload:    copyAnyMap(event.Payload),
		Metadata:   copyAnyMap(event.Metadata),
		Status:     outboxStatusPending,
		OccurredAt: occurredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (r lifecycleOutboxRecord) event() core.Event {
	metadata := copyAnyMap(r.Metadata)
	metadata[core.MetadataKeyOutboxAttempts] = r.Attempts
	return core.Event{
		ID:         r.EventID,
		Name:       r.EventName,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		LotID:      r.LotID,
		ActorID:    r.ActorID,
		AmountUSD:  r.AmountUSD,
		OccurredAt: r.OccurredAt.UTC(),
		Payload:    copyAnyMap(r.Payload),
		Metadata:   metadata,
	}
}
