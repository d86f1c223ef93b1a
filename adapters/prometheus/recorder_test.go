package prometheus

import (
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-creditlots/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricName(t *testing.T) {
	cases := map[string]string{
		"creditlots.create_hold.total":       "create_hold_total",
		"creditlots.create_hold.duration_ms": "create_hold_duration_ms",
		core.MetricCapacityConflicts:         "capacity_conflicts",
		"  sweep-run ":                       "sweep_run",
		"..":                                 "",
	}
	for input, want := range cases {
		if got := MetricName(input); got != want {
			t.Fatalf("expected %q for %q, got %q", want, input, got)
		}
	}
}

func TestRecorder_CountersUseConfiguredLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(WithRegisterer(registry))
	ctx := context.Background()

	tags := map[string]string{"operation": "create_hold", "status": "succeeded", "actor_role": "buyer", "lot_id": "lot-1"}
	recorder.IncCounter(ctx, "creditlots.create_hold.total", 1, tags)
	recorder.IncCounter(ctx, "creditlots.create_hold.total", 2, tags)
	recorder.IncCounter(ctx, "creditlots.create_hold.total", -1, tags)

	vec := recorder.counters["create_hold_total"]
	if vec == nil {
		t.Fatalf("expected counter vector to be created")
	}
	got := testutil.ToFloat64(vec.With(prometheus.Labels{"operation": "create_hold", "status": "succeeded", "actor_role": "buyer"}))
	if got != 3 {
		t.Fatalf("expected counter 3, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 || families[0].GetName() != "creditlots_create_hold_total" {
		t.Fatalf("expected one creditlots_create_hold_total family, got %d", len(families))
	}
	for _, label := range families[0].GetMetric()[0].GetLabel() {
		if label.GetName() == "lot_id" {
			t.Fatalf("expected lot_id to be excluded from default labels")
		}
	}
}

func TestRecorder_Histogram(t *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewRecorder(WithRegisterer(registry), WithNamespace("engine"), WithLabels("operation", "bogus"))
	recorder.ObserveHistogram(context.Background(), "creditlots.settle.duration_ms", 12.5, map[string]string{"operation": "settle"})

	count, err := testutil.GatherAndCount(registry, "engine_settle_duration_ms")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one histogram series, got %d", count)
	}
}

func TestRecorder_SharesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewRecorder(WithRegisterer(registry))
	second := NewRecorder(WithRegisterer(registry))
	tags := map[string]string{"operation": "sweep", "status": "succeeded"}

	first.IncCounter(context.Background(), "creditlots.sweep.total", 1, tags)
	second.IncCounter(context.Background(), "creditlots.sweep.total", 1, tags)

	var out strings.Builder
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		out.WriteString(family.GetName())
	}
	if out.String() != "creditlots_sweep_total" {
		t.Fatalf("expected a single shared family, got %q", out.String())
	}
	value := families[0].GetMetric()[0].GetCounter().GetValue()
	if value != 2 {
		t.Fatalf("expected both recorders to add to one counter, got %v", value)
	}
}
