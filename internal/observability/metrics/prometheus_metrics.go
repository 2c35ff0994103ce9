// Package metrics provides Prometheus-backed and no-op implementations of
// observability.Metrics, grounded on the teacher's
// shared/observability/metrics/prometheus_metrics.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/1kimnet/geo-ingest/internal/observability"
)

// Prometheus implements observability.Metrics with a small set of
// pre-registered vectors prefixed by serviceName.
type Prometheus struct {
	serviceName string
	defaultTags map[string]string

	counters   *prometheus.CounterVec
	histograms *prometheus.HistogramVec
	gauges     *prometheus.GaugeVec
}

// New creates and registers the ingestion engine's Prometheus metrics
// against the default registry. Calling New twice with the same
// serviceName panics, same as the teacher's implementation — this is only
// ever called once per process, at startup.
func New(serviceName string) *Prometheus {
	labels := []string{"name", "tag"}
	p := &Prometheus{
		serviceName: serviceName,
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: serviceName + "_events_total",
			Help: "Count of ingestion pipeline events by metric name and tag.",
		}, labels),
		histograms: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    serviceName + "_durations",
			Help:    "Distribution of ingestion pipeline measured values by metric name and tag.",
			Buckets: prometheus.DefBuckets,
		}, labels),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: serviceName + "_gauges",
			Help: "Point-in-time ingestion pipeline measurements by metric name and tag.",
		}, labels),
	}
	prometheus.MustRegister(p.counters, p.histograms, p.gauges)
	return p
}

func (p *Prometheus) tag(tags map[string]string) string {
	t := p.defaultTags
	if len(tags) > 0 {
		merged := make(map[string]string, len(t)+len(tags))
		for k, v := range t {
			merged[k] = v
		}
		for k, v := range tags {
			merged[k] = v
		}
		t = merged
	}
	// A single representative tag keeps the label cardinality bounded;
	// source id (the highest-cardinality dimension in practice) is folded
	// into this value by callers that need it, not kept as its own label.
	if v, ok := t["authority"]; ok {
		return v
	}
	if v, ok := t["status"]; ok {
		return v
	}
	return ""
}

func (p *Prometheus) IncrementCounter(name string, tags map[string]string) {
	p.counters.WithLabelValues(name, p.tag(tags)).Inc()
}

func (p *Prometheus) RecordHistogram(name string, value float64, tags map[string]string) {
	p.histograms.WithLabelValues(name, p.tag(tags)).Observe(value)
}

func (p *Prometheus) RecordGauge(name string, value float64, tags map[string]string) {
	p.gauges.WithLabelValues(name, p.tag(tags)).Set(value)
}

func (p *Prometheus) WithTags(tags map[string]string) observability.Metrics {
	merged := make(map[string]string, len(p.defaultTags)+len(tags))
	for k, v := range p.defaultTags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	return &Prometheus{serviceName: p.serviceName, defaultTags: merged, counters: p.counters, histograms: p.histograms, gauges: p.gauges}
}
