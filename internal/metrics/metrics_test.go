package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/extrema/internal/functions"
)

func TestEvaluationCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	def, _ := functions.Lookup(functions.Dell)
	fn, err := def.New()
	require.NoError(t, err)

	obs := m.Observe(functions.Dell, fn)
	for i := 0; i < 3; i++ {
		_, err := fn.Evaluate(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.evaluations.WithLabelValues(functions.Dell)))

	fn.RemoveObserver(obs)
	_, err = fn.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.evaluations.WithLabelValues(functions.Dell)))
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionStarted()
	m.SessionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsActive))

	m.SessionFinished("Powell", "completed", 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions.WithLabelValues("Powell", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sessionDuration))

	count, err := testutil.GatherAndCount(reg, "extrema_sessions_total", "extrema_sessions_active")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFinished("RandomWalk", "failed", time.Second)
	})

	def, _ := functions.Lookup(functions.Dell)
	fn, err := def.New()
	require.NoError(t, err)
	assert.Nil(t, m.Observe(functions.Dell, fn))
	assert.Equal(t, 0, fn.ObserverCount())
}
