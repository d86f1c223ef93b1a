package gologger

import (
	"context"
	"strings"

	"github.com/goliatone/go-creditlots/core"
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const RootName = "creditlots"

// Resolve picks provider over logger over nop, naming the logger after the
// component ("creditlots.<component>", or "creditlots" when blank).
func Resolve(component string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(LoggerName(component), provider, logger)
}

func LoggerName(component string) string {
	component = strings.Trim(strings.TrimSpace(component), ".")
	if component == "" || component == RootName {
		return RootName
	}
	if strings.HasPrefix(component, RootName+".") {
		return component
	}
	return RootName + "." + component
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the component logger and its go-job bridges.
func ResolveForJob(
	component string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(component, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// JobLogHook writes maintenance worker lifecycle events to a logger.
type JobLogHook struct {
	logger glog.Logger
}

func NewJobLogHook(logger glog.Logger) *JobLogHook {
	if logger == nil {
		logger = glog.Nop()
	}
	return &JobLogHook{logger: logger}
}

func (h *JobLogHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.logger.WithContext(ctx).Debug("job started", jobFields(event)...)
}

func (h *JobLogHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.logger.WithContext(ctx).Info("job succeeded", append(jobFields(event), "duration_ms", event.Duration.Milliseconds())...)
}

func (h *JobLogHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.logger.WithContext(ctx).Error("job failed", append(jobFields(event), "error", event.Err)...)
}

func (h *JobLogHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.logger.WithContext(ctx).Warn("job retry scheduled", append(jobFields(event), "delay", event.Delay.String(), "error", event.Err)...)
}

func jobFields(event core.JobWorkerEvent) []any {
	jobID := ""
	if event.Message != nil {
		jobID = event.Message.JobID
	}
	return []any{"job_id", jobID, "attempt", event.Attempt}
}

var _ core.JobWorkerHook = (*JobLogHook)(nil)
