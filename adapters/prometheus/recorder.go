// Package prometheus records engine operation metrics as Prometheus counters
// and histograms.
package prometheus

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-creditlots/core"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "creditlots"

// DefaultLabels drops lot_id from core.MetricTagKeys to keep series bounded.
var DefaultLabels = []string{"operation", "status", "actor_role"}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		if namespace = sanitize(namespace); namespace != "" {
			r.namespace = namespace
		}
	}
}

func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(r *Recorder) {
		if registerer != nil {
			r.registerer = registerer
		}
	}
}

// WithLabels selects which tags become labels. Unknown keys are ignored.
func WithLabels(labels ...string) Option {
	return func(r *Recorder) {
		known := make(map[string]bool, len(core.MetricTagKeys))
		for _, key := range core.MetricTagKeys {
			known[key] = true
		}
		selected := make([]string, 0, len(labels))
		for _, label := range labels {
			if known[label] {
				selected = append(selected, label)
			}
		}
		r.labels = selected
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// Recorder implements core.MetricsRecorder. Each metric name maps to one
// vector with a fixed label set, created on first use.
type Recorder struct {
	namespace  string
	registerer prometheus.Registerer
	labels     []string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

var _ core.MetricsRecorder = (*Recorder)(nil)

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		namespace:  defaultNamespace,
		registerer: prometheus.DefaultRegisterer,
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	vec := r.counter(name)
	if vec == nil {
		return
	}
	vec.With(r.labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	vec := r.histogram(name)
	if vec == nil {
		return
	}
	vec.With(r.labelValues(tags)).Observe(value)
}

func (r *Recorder) counter(name string) *prometheus.CounterVec {
	metric := MetricName(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[metric]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Credit lot engine counter " + name,
	}, r.labels)
	vec = register(r.registerer, vec)
	r.counters[metric] = vec
	return vec
}

func (r *Recorder) histogram(name string) *prometheus.HistogramVec {
	metric := MetricName(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[metric]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      metric,
		Help:      "Credit lot engine histogram " + name,
		Buckets:   r.buckets,
	}, r.labels)
	vec = register(r.registerer, vec)
	r.histograms[metric] = vec
	return vec
}

func (r *Recorder) labelValues(tags map[string]string) prometheus.Labels {
	labels := make(prometheus.Labels, len(r.labels))
	for _, key := range r.labels {
		labels[key] = tags[key]
	}
	return labels
}

// register returns the already registered collector when another recorder
// created the same metric first.
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return collector
}

// MetricName turns creditlots.create_hold.duration_ms into
// create_hold_duration_ms; the namespace supplies the prefix.
func MetricName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), core.MetricPrefix)
	return sanitize(name)
}

func sanitize(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
