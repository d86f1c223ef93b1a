package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Outcome classifies a finished operation. It is both the status metric tag
// and the verb of the operation log line.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeRejected covers caller mistakes, lost races and capacity
	// contention. They log at warn.
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// OutcomeOf maps an operation error to its Outcome.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSucceeded
	}
	if IsRetryable(err) {
		return OutcomeRejected
	}
	switch errorClassOf(err) {
	case ErrorClassValidation, ErrorClassState, ErrorClassConflict:
		return OutcomeRejected
	}
	return OutcomeFailed
}

type operationReport struct {
	name    string
	outcome Outcome
	elapsed time.Duration
	err     error
	fields  map[string]any
}

func newOperationReport(operation string, startedAt time.Time, err error, fields map[string]any) operationReport {
	name := normalizeOperation(operation)
	if name == "" {
		name = "unknown"
	}
	return operationReport{
		name:    name,
		outcome: OutcomeOf(err),
		elapsed: time.Since(startedAt),
		err:     err,
		fields:  fields,
	}
}

func (r operationReport) logFields() map[string]any {
	out := cloneFields(r.fields)
	out["event_type"] = r.name
	out["status"] = string(r.outcome)
	out["duration_ms"] = r.elapsed.Milliseconds()
	if r.err != nil {
		out["error"] = r.err.Error()
		if code := TextCode(r.err); code != "" {
			out["error_code"] = code
		}
	}
	return out
}

// tags keeps only the low-cardinality keys from MetricTagKeys.
func (r operationReport) tags() map[string]string {
	tags := map[string]string{"operation": r.name, "status": string(r.outcome)}
	for _, key := range MetricTagKeys {
		if _, set := tags[key]; set {
			continue
		}
		raw, ok := r.fields[key]
		if !ok || raw == nil {
			continue
		}
		if value := strings.TrimSpace(fmt.Sprint(raw)); value != "" {
			tags[key] = value
		}
	}
	return tags
}

func (s *Service) observeOperation(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if s == nil {
		return
	}
	report := newOperationReport(operation, startedAt, err, fields)
	tags := report.tags()
	s.recordCounter(ctx, MetricPrefix+report.name+".total", 1, tags)
	s.recordHistogram(ctx, MetricPrefix+report.name+".duration_ms", float64(report.elapsed.Milliseconds()), tags)

	level := "info"
	switch report.outcome {
	case OutcomeRejected:
		level = "warn"
	case OutcomeFailed:
		level = "error"
	}
	s.logWithLevel(ctx, level, report.name+" "+string(report.outcome), report.logFields())
}

func (s *Service) logError(ctx context.Context, message string, fields map[string]any) {
	s.logWithLevel(ctx, "error", message, fields)
}

func (s *Service) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, name, value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, name, value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields)+4)
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

// flattenFields yields key/value pairs in key order so log lines are stable.
func flattenFields(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(operation)))
}

func errorClassOf(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return ""
	}
	if class, ok := richErr.Metadata[metadataErrorClass].(string); ok {
		return class
	}
	return errorClass(richErr.Category)
}
