package protocol

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments protocol servers. One value can be shared by every
// worker of a process.
type Metrics struct {
	sessions       prometheus.Counter
	activeSessions prometheus.Gauge
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
}

// NewMetrics registers the protocol instruments against reg, or the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "braze",
			Subsystem: "protocol",
			Name:      "sessions_total",
			Help:      "Total number of accepted client sessions.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "braze",
			Subsystem: "protocol",
			Name:      "active_sessions",
			Help:      "Number of client sessions being served.",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "braze",
				Subsystem: "protocol",
				Name:      "requests_total",
				Help:      "Total number of requests by type and status.",
			},
			[]string{"type", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "braze",
				Subsystem: "protocol",
				Name:      "request_duration_seconds",
				Help:      "Histogram of request handling durations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
	}
	reg.MustRegister(m.sessions, m.activeSessions, m.requests, m.duration)
	return m
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) observe(typ RequestType, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.requests.WithLabelValues(string(typ), status).Inc()
	m.duration.WithLabelValues(string(typ)).Observe(elapsed.Seconds())
}
