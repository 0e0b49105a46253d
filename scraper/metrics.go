package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper. It also satisfies
// pipeline.Recorder.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	ValuesExtracted  *prometheus.CounterVec
	RowsWrittenTotal prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	values := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_values_extracted_total",
			Help: "Values extracted per field.",
		},
		[]string{"field"},
	)
	rows := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_rows_written_total",
			Help: "Rows written to the output table.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, values, rows, errorsTotal)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RequestDuration:  requestDuration,
		ValuesExtracted:  values,
		RowsWrittenTotal: rows,
		ErrorsTotal:      errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// ObserveField adds count to the per-field extraction counter.
func (m *Metrics) ObserveField(name string, count int) {
	if m == nil {
		return
	}
	m.ValuesExtracted.WithLabelValues(name).Add(float64(count))
}

// AddRows adds to the rows written counter.
func (m *Metrics) AddRows(count int) {
	if m == nil {
		return
	}
	m.RowsWrittenTotal.Add(float64(count))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
