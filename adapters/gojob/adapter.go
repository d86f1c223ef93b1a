package gojob

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/goliatone/go-creditlots/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

// toJobMessage maps a maintenance job onto go-job. Maintenance tasks run in
// process, so the job id also fills ScriptPath.
func toJobMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	id := strings.TrimSpace(msg.JobID)
	return &job.ExecutionMessage{
		JobID:          id,
		ScriptPath:     id,
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func fromJobMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	id := strings.TrimSpace(msg.JobID)
	if id == "" {
		id = strings.TrimSpace(msg.ScriptPath)
	}
	return &core.JobExecutionMessage{
		JobID:          id,
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// EnqueuerAdapter submits maintenance jobs to a go-job queue.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("gojob: job message with a job id is required")
	}
	_, err := a.enqueuer.Enqueue(ctx, toJobMessage(msg))
	return err
}

// WorkerHookAdapter lets a core.JobWorkerHook observe a go-job worker.
type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnStart)
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnSuccess)
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnFailure)
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnRetry)
}

func (a *WorkerHookAdapter) forward(ctx context.Context, event worker.Event, call func(core.JobWorkerHook, context.Context, core.JobWorkerEvent)) {
	if a == nil || a.hook == nil {
		return
	}
	msg := event.Message
	if msg == nil && event.Delivery != nil {
		msg = event.Delivery.Message()
	}
	call(a.hook, ctx, core.JobWorkerEvent{
		Message:   fromJobMessage(msg),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	})
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ worker.Hook      = (*WorkerHookAdapter)(nil)
)
