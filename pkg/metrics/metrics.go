package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hms"

// MetricsCollector owns a private registry so tests and multiple servers in
// one process never collide on the default registerer.
type MetricsCollector struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	uploadSize        prometheus.Histogram
	blobDeleteErrors  prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Lifecycle operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of lifecycle operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		uploadSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "document_upload_bytes",
				Help:      "Size of uploaded document files",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
		blobDeleteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blob_delete_errors_total",
				Help:      "Best-effort blob deletions that failed",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	mc.registry.MustRegister(
		mc.operationsTotal,
		mc.operationDuration,
		mc.uploadSize,
		mc.blobDeleteErrors,
		mc.httpRequests,
		mc.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return mc
}

// ObserveOperation records one lifecycle call. A nil collector is a no-op so
// services can run without metrics in tests.
func (mc *MetricsCollector) ObserveOperation(operation string, start time.Time, err error) {
	if mc == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	mc.operationsTotal.WithLabelValues(operation, outcome).Inc()
	mc.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (mc *MetricsCollector) ObserveSize(size int64) {
	if mc == nil {
		return
	}
	mc.uploadSize.Observe(float64(size))
}

func (mc *MetricsCollector) IncrementBlobDeleteErrors() {
	if mc == nil {
		return
	}
	mc.blobDeleteErrors.Inc()
}

func (mc *MetricsCollector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if mc == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	mc.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	mc.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}
