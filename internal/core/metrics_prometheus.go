package core

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"cveteval/internal/match"
)

var (
	_ MetricsRecorder = (*PrometheusMetricsRecorder)(nil)
	_ SummaryObserver = (*PrometheusMetricsRecorder)(nil)
)

const metricsNamespace = "cveteval"

// PrometheusMetricsRecorder exports service metrics on a private registry.
// Migrations run as batch jobs, so the registry is usually pushed to a
// Pushgateway when the command finishes.
type PrometheusMetricsRecorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	entities   *prometheus.GaugeVec
}

// NewPrometheusMetricsRecorder registers the service collectors on a fresh registry.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		registry: reg,
		// Labels: operation, status (success, error)
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Service operations by outcome",
		}, []string{"operation", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		// Labels: kind (entity kind), class (matched, unmatched_old, unmatched_new, orphaned_old, orphaned_new)
		entities: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "match",
			Name:      "entities",
			Help:      "Entity classification counts of the latest reconciliation",
		}, []string{"kind", "class"}),
	}
}

// Registry exposes the underlying registry for scraping or tests.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry { return r.registry }

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveSummary sets the classification gauges from a summary.
func (r *PrometheusMetricsRecorder) ObserveSummary(_ context.Context, summary []match.Summary) {
	r.entities.Reset()
	for _, s := range summary {
		kind := string(s.Kind)
		r.entities.WithLabelValues(kind, "matched").Set(float64(s.Matched))
		r.entities.WithLabelValues(kind, "unmatched_old").Set(float64(s.UnmatchedOld))
		r.entities.WithLabelValues(kind, "unmatched_new").Set(float64(s.UnmatchedNew))
		r.entities.WithLabelValues(kind, "orphaned_old").Set(float64(s.OrphanedOld))
		r.entities.WithLabelValues(kind, "orphaned_new").Set(float64(s.OrphanedNew))
	}
}

// Push sends the registry to a Pushgateway under job.
func (r *PrometheusMetricsRecorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
