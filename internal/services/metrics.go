package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks tokenization outcomes. A nil *Metrics records nothing.
type Metrics struct {
	tokenizeTotal    *prometheus.CounterVec
	tokenizeDuration prometheus.Histogram
	recordsPersisted prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tokenizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenization_requests_total",
				Help: "Total number of tokenization runs by outcome",
			},
			[]string{"outcome"},
		),
		tokenizeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tokenization_duration_seconds",
				Help:    "End to end duration of tokenization runs",
				Buckets: prometheus.DefBuckets,
			},
		),
		recordsPersisted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokenization_records_persisted_total",
				Help: "Total number of credential records persisted",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.tokenizeTotal, m.tokenizeDuration, m.recordsPersisted)
	}
	return m
}

func (m *Metrics) observeTokenize(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tokenizeTotal.WithLabelValues(outcome).Inc()
	m.tokenizeDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) recordPersisted() {
	if m == nil {
		return
	}
	m.recordsPersisted.Inc()
}
