package gojob

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is a single process go-job queue for --dev runs and tests.
// An enqueue is dropped while a message with the same idempotency key is
// still pending; the receipt then points at the pending dispatch.
type MemoryQueue struct {
	mu          sync.Mutex
	ready       chan *memoryEntry
	queued      map[string]string
	deadLetters []*job.ExecutionMessage
	now         func() time.Time
}

type memoryEntry struct {
	id       string
	msg      *job.ExecutionMessage
	attempts int
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		ready:  make(chan *memoryEntry, capacity),
		queued: map[string]string{},
		now:    time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if err := queue.ValidateRequiredMessage(msg); err != nil {
		return queue.EnqueueReceipt{}, err
	}
	receipt := queue.EnqueueReceipt{DispatchID: uuid.NewString(), EnqueuedAt: q.now().UTC()}
	key := strings.TrimSpace(msg.IdempotencyKey)
	q.mu.Lock()
	if key != "" && msg.DedupPolicy != job.DedupPolicyIgnore {
		if pending, exists := q.queued[key]; exists {
			q.mu.Unlock()
			receipt.DispatchID = pending
			return receipt, nil
		}
		q.queued[key] = receipt.DispatchID
	}
	q.mu.Unlock()

	select {
	case q.ready <- &memoryEntry{id: receipt.DispatchID, msg: msg}:
		return receipt, nil
	case <-ctx.Done():
		q.forget(key)
		return queue.EnqueueReceipt{}, ctx.Err()
	}
}

// Dequeue blocks until a message is ready or ctx ends.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	select {
	case entry := <-q.ready:
		entry.attempts++
		return &memoryDelivery{queue: q, entry: entry}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job.ExecutionMessage, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

func (q *MemoryQueue) Len() int {
	return len(q.ready)
}

func (q *MemoryQueue) forget(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.queued, key)
	q.mu.Unlock()
}

func (q *MemoryQueue) requeue(entry *memoryEntry) {
	select {
	case q.ready <- entry:
	default:
		q.forget(strings.TrimSpace(entry.msg.IdempotencyKey))
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	entry *memoryEntry
	once  sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.entry.msg
}

// Attempts is read by the go-job worker to feed its retry policy.
func (d *memoryDelivery) Attempts() int {
	return d.entry.attempts
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() { d.queue.forget(d.key()) })
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return err
	}
	d.once.Do(func() {
		switch opts.Disposition {
		case queue.NackDispositionRetry:
			if opts.Delay <= 0 {
				d.queue.requeue(d.entry)
				return
			}
			time.AfterFunc(opts.Delay, func() { d.queue.requeue(d.entry) })
		case queue.NackDispositionDeadLetter:
			d.queue.forget(d.key())
			d.queue.mu.Lock()
			d.queue.deadLetters = append(d.queue.deadLetters, d.entry.msg)
			d.queue.mu.Unlock()
		default:
			d.queue.forget(d.key())
		}
	})
	return nil
}

func (d *memoryDelivery) key() string {
	return strings.TrimSpace(d.entry.msg.IdempotencyKey)
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
