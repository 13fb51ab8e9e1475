package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is a
// no-op, so instrumentation stays optional.
type Metrics struct {
	RequestsSent    *prometheus.CounterVec
	RepliesReceived *prometheus.CounterVec
	Timeouts        *prometheus.CounterVec
	ErrorsRouted    *prometheus.CounterVec
}

// NewMetrics creates the engine metric collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "requests",
				Name:      "sent_total",
				Help:      "Total request envelopes sent",
			},
			[]string{"method"},
		),
		RepliesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "replies",
				Name:      "received_total",
				Help:      "Total correlated replies received",
			},
			[]string{"method", "status"},
		),
		Timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "replies",
				Name:      "timeouts_total",
				Help:      "Total reply waits that expired",
			},
			[]string{"method"},
		),
		ErrorsRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "errors",
				Name:      "routed_total",
				Help:      "Total failures forwarded to the error destination",
			},
			[]string{"method"},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.RequestsSent, m.RepliesReceived, m.Timeouts, m.ErrorsRouted} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) countSent(method string) {
	if m == nil {
		return
	}
	m.RequestsSent.WithLabelValues(method).Inc()
}

func (m *Metrics) countReply(method, status string) {
	if m == nil {
		return
	}
	m.RepliesReceived.WithLabelValues(method, status).Inc()
}

func (m *Metrics) countTimeout(method string) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(method).Inc()
}

func (m *Metrics) countErrorRouted(method string) {
	if m == nil {
		return
	}
	m.ErrorsRouted.WithLabelValues(method).Inc()
}
