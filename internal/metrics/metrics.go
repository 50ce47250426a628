package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	importRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "karavan",
			Name:      "import_runs_total",
			Help:      "Scheduled import executions by final status.",
		},
		[]string{"status"},
	)

	rowsImported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "karavan",
			Name:      "rows_imported_total",
			Help:      "CSV rows imported as products.",
		},
	)

	rowsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "karavan",
			Name:      "rows_failed_total",
			Help:      "CSV rows that failed to import.",
		},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "karavan",
			Name:      "import_run_duration_seconds",
			Help:      "Wall-clock duration of one import execution.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "karavan",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(importRuns, rowsImported, rowsFailed, runDuration, httpRequests)
	})
}

// ObserveRun records one finished execution.
func ObserveRun(status string, imported, failed int, dur time.Duration) {
	importRuns.WithLabelValues(status).Inc()
	rowsImported.Add(float64(imported))
	rowsFailed.Add(float64(failed))
	runDuration.Observe(dur.Seconds())
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
