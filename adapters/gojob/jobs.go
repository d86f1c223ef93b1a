package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-creditlots/core"
	job "github.com/goliatone/go-job"
)

const (
	JobIDSweep          = "creditlots.sweep"
	JobIDOutboxDispatch = "creditlots.outbox.dispatch"

	ParamBatchSize   = "batch_size"
	ParamScheduledAt = "scheduled_at"
)

// Maintenance messages share one idempotency key per job, so a queue that
// dedupes on keys never holds two pending runs of the same job. Replace lets
// a redelivered run execute again after a failure.
const maintenanceDedupPolicy = string(job.DedupPolicyReplace)

// NewSweepMessage builds the expiry sweep job for the tick at.
func NewSweepMessage(at time.Time) *core.JobExecutionMessage {
	return &core.JobExecutionMessage{
		JobID:          JobIDSweep,
		Parameters:     map[string]any{ParamScheduledAt: at.UTC().Format(time.RFC3339)},
		IdempotencyKey: JobIDSweep,
		DedupPolicy:    maintenanceDedupPolicy,
	}
}

// NewOutboxDispatchMessage builds an outbox drain job. A non positive
// batchSize leaves the dispatcher default in place.
func NewOutboxDispatchMessage(at time.Time, batchSize int) *core.JobExecutionMessage {
	params := map[string]any{ParamScheduledAt: at.UTC().Format(time.RFC3339)}
	if batchSize > 0 {
		params[ParamBatchSize] = batchSize
	}
	return &core.JobExecutionMessage{
		JobID:          JobIDOutboxDispatch,
		Parameters:     params,
		IdempotencyKey: JobIDOutboxDispatch,
		DedupPolicy:    maintenanceDedupPolicy,
	}
}

// Schedule enqueues build(now) on every interval tick until ctx ends.
func Schedule(
	ctx context.Context,
	enqueuer core.JobEnqueuer,
	interval time.Duration,
	build func(time.Time) *core.JobExecutionMessage,
) error {
	if enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is required")
	}
	if build == nil {
		return fmt.Errorf("gojob: message builder is required")
	}
	if interval <= 0 {
		return fmt.Errorf("gojob: schedule interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := enqueuer.Enqueue(ctx, build(time.Now())); err != nil && ctx.Err() == nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func batchSizeParam(params map[string]any) int {
	switch value := params[ParamBatchSize].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return 0
}
