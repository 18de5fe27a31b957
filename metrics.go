package odm

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransportMetrics counts transport round trips. A nil *TransportMetrics
// records nothing.
type TransportMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewTransportMetrics registers the transport collectors on reg under the
// given transport label. It returns nil when reg is nil. A second transport
// with the same label shares the collectors of the first.
func NewTransportMetrics(reg prometheus.Registerer, transport string) (*TransportMetrics, error) {
	if reg == nil {
		return nil, nil
	}
	labels := prometheus.Labels{"transport": transport}
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "odm_transport_requests_total",
			Help:        "Total transport requests by operation and outcome",
			ConstLabels: labels,
		},
		[]string{"op", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "odm_transport_request_duration_seconds",
			Help:        "Duration of transport requests",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"op"},
	)

	var err error
	if requests, err = registerOrReuse(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = registerOrReuse(reg, duration); err != nil {
		return nil, err
	}
	return &TransportMetrics{requests: requests, duration: duration}, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// observe records one request of op that started at start.
func (m *TransportMetrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.requests.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
