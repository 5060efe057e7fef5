// Package metrics provides Prometheus metrics for crud sources and coordinators
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh outcomes recorded by coordinators
const (
	RefreshApplied = "applied"
	RefreshStale   = "stale"
	RefreshSkipped = "skipped"
	RefreshFailed  = "failed"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RefreshesTotal    *prometheus.CounterVec
	EventsTotal       *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crudsource_operations_total",
			Help: "Total number of source operations",
		},
		[]string{"source", "operation", "status"},
	)

	m.OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crudsource_operation_duration_seconds",
			Help:    "Duration of source operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source", "operation"},
	)

	m.RefreshesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crudsource_refreshes_total",
			Help: "Total number of coordinator refreshes by outcome",
		},
		[]string{"outcome"},
	)

	m.EventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crudsource_events_total",
			Help: "Total number of mutation events observed by coordinators",
		},
		[]string{"event"},
	)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crudsource_http_requests_total",
			Help: "Total number of requests served by the crud endpoint",
		},
		[]string{"operation", "code"},
	)

	return m
}

// RecordOperation records a source operation
func (m *Metrics) RecordOperation(source, operation string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(source, operation, status).Inc()
	m.OperationDuration.WithLabelValues(source, operation).Observe(duration.Seconds())
}

// RecordRefresh records a coordinator refresh outcome
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.RefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordEvent records a mutation event seen by a coordinator
func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}

// RecordHTTPRequest records a request served by the crud endpoint
func (m *Metrics) RecordHTTPRequest(operation string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(operation, httpCode(code)).Inc()
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	}
	return "2xx"
}
