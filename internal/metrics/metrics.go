// Package metrics exposes Prometheus instruments for evaluations and
// optimization sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/copyleftdev/extrema/internal/objective"
)

const namespace = "extrema"

// Metrics holds the instruments. A nil *Metrics is valid and records
// nothing, which keeps callers free of nil checks in tests and the CLI.
type Metrics struct {
	evaluations     *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	sessionDuration *prometheus.HistogramVec
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Successful objective function evaluations by function",
			},
			[]string{"function"},
		),
		sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Finished optimization sessions by technique and terminal state",
			},
			[]string{"technique", "state"},
		),
		sessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Optimization sessions currently running",
			},
		),
		sessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Wall-clock duration of optimization sessions",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"technique"},
		),
	}
}

// SessionStarted marks a session as running.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionFinished records a terminal state.
func (m *Metrics) SessionFinished(technique, state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessions.WithLabelValues(technique, state).Inc()
	m.sessionDuration.WithLabelValues(technique).Observe(elapsed.Seconds())
}

// EvaluationCounter is an observer that counts evaluations of one function.
type EvaluationCounter struct {
	counter prometheus.Counter
}

// Update implements objective.Observer.
func (c *EvaluationCounter) Update([]float64) {
	c.counter.Inc()
}

// Observe registers an evaluation counter on fn, labelled with key. The
// returned observer can be passed to fn.RemoveObserver.
func (m *Metrics) Observe(key string, fn *objective.Function) objective.Observer {
	if m == nil {
		return nil
	}
	c := &EvaluationCounter{counter: m.evaluations.WithLabelValues(key)}
	fn.RegisterObserver(c)
	return c
}
