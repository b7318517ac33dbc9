package p2p

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is the subsystem of all worker metrics
const MetricsSubsystem = "worker"

// Metrics contains metrics exposed by the worker
type Metrics struct {
	// Number of transmissions pending
	Pending prometheus.Gauge
	// Number of transmissions ready locally
	Ready prometheus.Gauge
	// Number of requests sent to peers
	Requested prometheus.Counter
	// Number of fetches that did not send a request
	Deduplicated prometheus.Counter
	// Number of transmissions resolved
	Resolved prometheus.Counter
	// Number of fetches that timed out
	TimedOut prometheus.Counter
	// Number of responses rejected
	Rejected prometheus.Counter
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending_transmissions",
			Help:      "Number of transmissions requested but not yet resolved.",
		}),
		Ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "ready_transmissions",
			Help:      "Number of transmissions available locally.",
		}),
		Requested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests_sent_total",
			Help:      "Number of transmission requests sent to peers.",
		}),
		Deduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests_deduplicated_total",
			Help:      "Number of fetches that waited on an existing request.",
		}),
		Resolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transmissions_resolved_total",
			Help:      "Number of pending transmissions resolved.",
		}),
		TimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "fetches_timed_out_total",
			Help:      "Number of fetches that timed out.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "responses_rejected_total",
			Help:      "Number of transmission responses rejected.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Pending, m.Ready, m.Requested, m.Deduplicated, m.Resolved, m.TimedOut, m.Rejected}
}

// PrometheusMetrics returns Metrics registered with reg
func PrometheusMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := newMetrics(namespace)
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// NopMetrics returns Metrics that are not registered anywhere
func NopMetrics() *Metrics {
	return newMetrics("")
}
