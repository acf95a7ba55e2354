// Package metrics exports sync traffic counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeOK           = "ok"
	OutcomePartial      = "partial"
	OutcomePrecondition = "precondition_failed"
	OutcomeError        = "error"
)

// Metrics owns a private registry so tests and several servers in one
// process do not collide.
type Metrics struct {
	reg      *prometheus.Registry
	syncs    *prometheus.CounterVec
	cases    *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casesync",
			Name:      "syncs_total",
			Help:      "Sync requests by direction and outcome.",
		}, []string{"direction", "outcome"}),
		cases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casesync",
			Name:      "cases_total",
			Help:      "Cases received (put) or sent (get).",
		}, []string{"direction"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casesync",
			Name:      "attachment_bytes_total",
			Help:      "Attachment bytes received (put) or sent (get).",
		}, []string{"direction"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "casesync",
			Name:      "sync_duration_seconds",
			Help:      "Time spent serving a sync request.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"direction"}),
	}
	m.reg.MustRegister(m.syncs, m.cases, m.bytes, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveSync records one finished sync.
func (m *Metrics) ObserveSync(direction, outcome string, d time.Duration) {
	m.syncs.WithLabelValues(direction, outcome).Inc()
	m.duration.WithLabelValues(direction).Observe(d.Seconds())
}

func (m *Metrics) AddCases(direction string, n int) {
	if n > 0 {
		m.cases.WithLabelValues(direction).Add(float64(n))
	}
}

func (m *Metrics) AddAttachmentBytes(direction string, n int64) {
	if n > 0 {
		m.bytes.WithLabelValues(direction).Add(float64(n))
	}
}

// Registry exposes the registry for collectors registered elsewhere.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
