package core

import "context"

// Operation metrics are named creditlots.<operation>.total and
// creditlots.<operation>.duration_ms and tagged with operation and status,
// plus actor_role and lot_id when known.
const (
	MetricPrefix            = "creditlots."
	MetricCapacityConflicts = MetricPrefix + "capacity.conflicts"
)

// MetricTagKeys lists every tag key the engine may attach to a metric.
var MetricTagKeys = []string{"operation", "status", "actor_role", "lot_id"}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
