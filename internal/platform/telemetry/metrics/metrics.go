package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "montyhall"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SessionMetrics tracks node protocol sessions.
type SessionMetrics struct {
	duration *prometheus.HistogramVec
	sessions *prometheus.CounterVec
}

// NewSessionMetrics registers node session metrics on reg.
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	factory := promauto.With(reg)
	return &SessionMetrics{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "session_duration_seconds",
			Help:      "Duration of joint protocol sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "sessions_total",
			Help:      "Joint protocol sessions by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
}

// Observe records one session. Safe on a nil receiver.
func (m *SessionMetrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	m.sessions.WithLabelValues(operation, outcome).Inc()
}

// StepMetrics tracks coordinator steps.
type StepMetrics struct {
	duration *prometheus.HistogramVec
	steps    *prometheus.CounterVec
}

// NewStepMetrics registers coordinator step metrics on reg.
func NewStepMetrics(reg prometheus.Registerer) *StepMetrics {
	factory := promauto.With(reg)
	return &StepMetrics{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "step_duration_seconds",
			Help:      "Duration of fanned-out protocol steps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"step"}),
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "steps_total",
			Help:      "Protocol steps by name and outcome.",
		}, []string{"step", "outcome"}),
	}
}

// Observe records one step. Safe on a nil receiver.
func (m *StepMetrics) Observe(step string, start time.Time, outcome string) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	m.steps.WithLabelValues(step, outcome).Inc()
}
