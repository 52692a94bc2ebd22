// Package observability exposes per-target write and session operation
// metrics through Prometheus or expvar.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives session operation outcomes and per-target write attempts.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	ObserveTargetWrite(target string, err error, elapsed time.Duration)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

func (NopRecorder) Observe(context.Context, string, bool, time.Duration) {}
func (NopRecorder) ObserveTargetWrite(string, error, time.Duration)       {}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// PrometheusRecorder keeps its collectors on a private registry so several
// recorders can coexist in one process.
type PrometheusRecorder struct {
	registry    *prometheus.Registry
	writes      *prometheus.CounterVec
	writeTime   *prometheus.HistogramVec
	operations  *prometheus.CounterVec
	operationMS *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the taxroll collectors on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxroll",
			Name:      "target_writes_total",
			Help:      "Row insert attempts per write target.",
		}, []string{"target", "status"}),
		writeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taxroll",
			Name:      "target_write_seconds",
			Help:      "Latency of a single row insert per write target.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taxroll",
			Name:      "operations_total",
			Help:      "Session operations by outcome.",
		}, []string{"operation", "status"}),
		operationMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taxroll",
			Name:      "operation_seconds",
			Help:      "Session operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	r.registry.MustRegister(r.writes, r.writeTime, r.operations, r.operationMS)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Observe implements Recorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, status(success)).Inc()
	r.operationMS.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveTargetWrite implements replication.WriteObserver.
func (r *PrometheusRecorder) ObserveTargetWrite(target string, err error, elapsed time.Duration) {
	r.writes.WithLabelValues(target, status(err == nil)).Inc()
	r.writeTime.WithLabelValues(target).Observe(elapsed.Seconds())
}
