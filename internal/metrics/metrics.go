// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Posting outcomes. A rejection is a business or validation refusal; an
// error is an infrastructure failure.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PostingsTotal       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		PostingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "erp_postings_total",
			Help: "Ledger postings by document, operation and outcome.",
		}, []string{"document", "operation", "outcome"}),
	}
	for _, c := range []prometheus.Collector{m.HTTPRequestsTotal, m.HTTPRequestDuration, m.PostingsTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObservePosting counts one posting attempt.
func (m *Metrics) ObservePosting(document, operation, outcome string) {
	if m == nil {
		return
	}
	m.PostingsTotal.WithLabelValues(document, operation, outcome).Inc()
}
