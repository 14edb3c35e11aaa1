package remote

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PlainFunction/cardtokenly/internal/common/types"
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Metrics tracks outbound calls by operation and outcome. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remote_requests_total",
				Help: "Total number of calls to the remote tokenization API",
			},
			[]string{"operation", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remote_request_duration_seconds",
				Help:    "Duration of calls to the remote tokenization API",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requestsTotal, m.requestDuration)
	}
	return m
}

func (m *Metrics) observe(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(op, outcome).Inc()
	m.requestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func outcomeFor(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	if kind := types.ErrorKind(err); kind != types.KindInternal {
		return kind
	}
	return outcomeError
}
