package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// recordKey lets ModelHandlers work with ids that are not UUIDs: those map to
// a stable name-based UUID so the repository never tries to assign a new one.
func recordKey(value string) uuid.UUID {
	value = strings.TrimSpace(value)
	if value == "" {
		return uuid.Nil
	}
	if parsed, err := uuid.Parse(value); err == nil {
		return parsed
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(value))
}

// keyedHandlers builds repository handlers for a record whose primary key is
// the string field returned by idField. column and natural name the lookup
// identifier the repository uses for upserts.
func keyedHandlers[T any](idField func(*T) *string, column string, natural func(*T) string) repository.ModelHandlers[*T] {
	return repository.ModelHandlers[*T]{
		NewRecord: func() *T { return new(T) },
		GetID: func(record *T) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return recordKey(*idField(record))
		},
		SetID: func(record *T, id uuid.UUID) {
			if record != nil {
				*idField(record) = id.String()
			}
		},
		GetIdentifier: func() string { return column },
		GetIdentifierValue: func(record *T) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(natural(record))
		},
	}
}

func lotHandlers() repository.ModelHandlers[*lotRecord] {
	id := func(r *lotRecord) *string { return &r.ID }
	return keyedHandlers(id, "id", func(r *lotRecord) string { return r.ID })
}

func holdHandlers() repository.ModelHandlers[*holdRecord] {
	id := func(r *holdRecord) *string { return &r.ID }
	return keyedHandlers(id, "id", func(r *holdRecord) string { return r.ID })
}

func orderHandlers() repository.ModelHandlers[*orderRecord] {
	id := func(r *orderRecord) *string { return &r.ID }
	return keyedHandlers(id, "id", func(r *orderRecord) string { return r.ID })
}

// Payment confirmations are looked up by the processor's reference, which is
// what makes a replayed confirmation detectable.
func paymentHandlers() repository.ModelHandlers[*paymentRecord] {
	id := func(r *paymentRecord) *string { return &r.ID }
	return keyedHandlers(id, "external_ref", func(r *paymentRecord) string { return r.ExternalRef })
}

func outboxHandlers() repository.ModelHandlers[*lifecycleOutboxRecord] {
	id := func(r *lifecycleOutboxRecord) *string { return &r.ID }
	return keyedHandlers(id, "event_id", func(r *lifecycleOutboxRecord) string { return r.EventID })
}
