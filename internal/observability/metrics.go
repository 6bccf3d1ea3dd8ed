// Package observability provides the Prometheus metrics, health check,
// and OpenTelemetry tracing wired into the running proxy, kept separate
// from internal/service so the pipeline itself never imports an
// observability backend directly.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the pipeline and replay engine
// report against.
type Metrics struct {
	MessagesTotal  *prometheus.CounterVec
	ModifiedTotal  prometheus.Counter
	DroppedTotal   prometheus.Counter
	ReplayTotal    *prometheus.CounterVec
	ReplayDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		MessagesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wiretap",
				Name:      "messages_total",
				Help:      "Total messages observed by the pipeline",
			},
			[]string{"direction", "transport"},
		),
		ModifiedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "wiretap",
				Name:      "modified_total",
				Help:      "Messages forwarded with operator-modified content",
			},
		),
		DroppedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "wiretap",
				Name:      "dropped_total",
				Help:      "Messages dropped by operator decision or a matching rule",
			},
		),
		ReplayTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wiretap",
				Name:      "replay_total",
				Help:      "Replay attempts by result",
			},
			[]string{"result"}, // ok|timeout|error
		),
		ReplayDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "wiretap",
				Name:      "replay_duration_seconds",
				Help:      "Time from replay issuance to a correlated response",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// RegisterHeldGauge wires a gauge that reads the live held-message count
// from held on every scrape, rather than tracking it via Observer
// increments/decrements: OnForwarded fires for both a never-held message
// and a released one, so an observer-driven counter can't tell the two
// apart without widening the pipeline's Observer contract. held is
// typically engine.Held paired with len.
func RegisterHeldGauge(reg prometheus.Registerer, held func() int) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "wiretap",
			Name:      "held_messages",
			Help:      "Messages currently held awaiting operator release",
		},
		func() float64 { return float64(held()) },
	)
}
