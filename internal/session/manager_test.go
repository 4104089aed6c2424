package session

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/extrema/internal/functions"
	"github.com/copyleftdev/extrema/internal/metrics"
	"github.com/copyleftdev/extrema/internal/objective"
	"github.com/copyleftdev/extrema/internal/optimization"
	"github.com/copyleftdev/extrema/internal/optimization/techniques"
)

const waitTimeout = 10 * time.Second

func newManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(techniques.NewFactory(optimization.WithSeed(1)), cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func samsClub(t *testing.T) *objective.Function {
	t.Helper()
	def, _ := functions.Lookup(functions.SamsClub)
	fn, err := def.New()
	require.NoError(t, err)
	return fn
}

// slow returns a 1-D function whose evaluations take d each.
func slow(t *testing.T, d time.Duration) *objective.Function {
	t.Helper()
	fn, err := objective.New("slow", []string{"x"}, []float64{5}, true, func(x []float64) (float64, error) {
		time.Sleep(d)
		return x[0] * x[0], nil
	})
	require.NoError(t, err)
	return fn
}

func wait(t *testing.T, s *Session) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	st, err := s.Wait(ctx)
	require.NoError(t, err, "session did not finish")
	return st
}

func TestStartCompletes(t *testing.T) {
	m := newManager(t, Config{Workers: 2})
	fn := samsClub(t)
	start := 60.0/26 + 20.0/46 + 30.0/42

	s, err := m.Start(functions.SamsClub, fn, Options{Technique: "Powell"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "Powell", s.Technique())
	assert.Equal(t, functions.SamsClub, s.FunctionKey())

	st := wait(t, s)
	assert.Equal(t, Completed, st.State)
	assert.Greater(t, st.Output, start)
	assert.Len(t, st.Inputs, 2)
	assert.NotNil(t, st.FinishedAt)
	assert.Empty(t, st.Error)
	assert.False(t, fn.Running())
	assert.Equal(t, "Powell", fn.Technique())
	assert.Equal(t, st.Output, fn.Output())

	res, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, st.Output, res.Output)
}

func TestFunctionFreedAfterSessionEnds(t *testing.T) {
	m := newManager(t, Config{})
	fn := slow(t, time.Millisecond)

	s, err := m.Start("slow", fn, Options{Technique: "RandomWalk", MaxIterations: 5})
	require.NoError(t, err)

	for fn.Running() {
		runtime.Gosched()
	}
	assert.True(t, s.State().Terminal(), "an idle function must not belong to a running session")
	_, ok := m.Active("slow")
	assert.False(t, ok)
	assert.Equal(t, Completed, wait(t, s).State)
}

func TestStartUnknownTechnique(t *testing.T) {
	m := newManager(t, Config{})
	fn := samsClub(t)

	_, err := m.Start(functions.SamsClub, fn, Options{Technique: "Simplex"})
	assert.ErrorIs(t, err, optimization.ErrUnknownTechnique)
	assert.Empty(t, m.List())
	assert.False(t, fn.Running())
}

func TestStartWhileRunningIsBusy(t *testing.T) {
	m := newManager(t, Config{Workers: 2})
	fn := slow(t, time.Millisecond)

	first, err := m.Start("slow", fn, Options{Technique: "RandomWalk"})
	require.NoError(t, err)

	_, err = m.Start("slow", fn, Options{Technique: "Powell"})
	assert.ErrorIs(t, err, optimization.ErrSessionBusy)
	assert.Equal(t, "RandomWalk", fn.Technique(), "a rejected start must not rebind the technique")

	assert.ErrorIs(t, fn.SetMinimize(false), optimization.ErrIllegalStateTransition)

	active, ok := m.Active("slow")
	require.True(t, ok)
	assert.Equal(t, first.ID(), active.ID())

	first.Cancel()
	st := wait(t, first)
	assert.Equal(t, Cancelled, st.State)
	assert.Equal(t, ErrCancelled.Error(), st.Error)

	_, ok = m.Active("slow")
	assert.False(t, ok)

	second, err := m.Start("slow", fn, Options{Technique: "Powell", MaxIterations: 1})
	require.NoError(t, err)
	assert.Equal(t, Completed, wait(t, second).State)
}

func TestCancelKeepsBestPoint(t *testing.T) {
	m := newManager(t, Config{Workers: 1})
	fn := slow(t, time.Millisecond)

	s, err := m.Start("slow", fn, Options{Technique: "RandomWalk"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = m.Cancel(s.ID())
	require.NoError(t, err)
	st := wait(t, s)

	assert.Equal(t, Cancelled, st.State)
	assert.LessOrEqual(t, st.Output, 25.0)
	assert.Equal(t, st.Inputs, fn.InputValues())

	res, err := s.Result()
	assert.ErrorIs(t, err, ErrCancelled)
	require.NotNil(t, res)
	assert.Equal(t, optimization.ReasonCancelled, res.Reason)

	s.Cancel()
	assert.Equal(t, Cancelled, s.State(), "cancelling a finished session is a no-op")

	_, err = m.Cancel("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteFailureFailsSession(t *testing.T) {
	m := newManager(t, Config{})
	var calls atomic.Int32
	fn, err := objective.New("flaky", []string{"x", "y"}, []float64{3, 4}, true, func(v []float64) (float64, error) {
		if calls.Add(1) == 15 {
			return 0, errors.New("connection refused")
		}
		return v[0]*v[0] + v[1]*v[1], nil
	})
	require.NoError(t, err)

	s, err := m.Start("flaky", fn, Options{Technique: "RandomWalk"})
	require.NoError(t, err)
	st := wait(t, s)

	assert.Equal(t, Failed, st.State)
	assert.Contains(t, st.Error, "connection refused")
	assert.Equal(t, optimization.ReasonFailed, st.Reason)
	assert.LessOrEqual(t, st.Output, 25.0, "partial best point is kept")

	_, runErr := s.Result()
	assert.ErrorIs(t, runErr, optimization.ErrRemoteFailure)
	assert.False(t, fn.Running())

	// The function sits at the last point that evaluated successfully.
	v := fn.InputValues()
	assert.Equal(t, fn.Output(), v[0]*v[0]+v[1]*v[1])
}

func TestSingleIterationBudgetCompletes(t *testing.T) {
	m := newManager(t, Config{})
	fn := samsClub(t)
	start := 60.0/26 + 20.0/46 + 30.0/42

	for _, technique := range []string{"RandomWalk", "Powell", "NelderMead", "Bayesian"} {
		t.Run(technique, func(t *testing.T) {
			s, err := m.Start(functions.SamsClub, fn, Options{Technique: technique, MaxIterations: 1})
			require.NoError(t, err)
			st := wait(t, s)
			assert.Equal(t, Completed, st.State)
			assert.GreaterOrEqual(t, st.Output, start)
		})
	}
}

func TestTimeBudgetCompletes(t *testing.T) {
	m := newManager(t, Config{Timeout: 30 * time.Millisecond})
	fn := slow(t, 2*time.Millisecond)

	s, err := m.Start("slow", fn, Options{Technique: "RandomWalk"})
	require.NoError(t, err)
	st := wait(t, s)

	assert.Equal(t, Completed, st.State)
	assert.Empty(t, st.Error)
	assert.Equal(t, optimization.ReasonTimeBudget, st.Reason)
	assert.LessOrEqual(t, st.Output, 25.0)
}

func TestNotificationsFollowEvaluationOrder(t *testing.T) {
	m := newManager(t, Config{})

	var mu sync.Mutex
	var evaluated, notified [][]float64
	fn, err := objective.New("traced", []string{"x", "y"}, []float64{2, -1}, true, func(v []float64) (float64, error) {
		mu.Lock()
		evaluated = append(evaluated, append([]float64(nil), v...))
		mu.Unlock()
		return v[0]*v[0] + v[1]*v[1], nil
	})
	require.NoError(t, err)
	fn.RegisterObserver(objective.NewObserverFunc(func(v []float64) {
		mu.Lock()
		notified = append(notified, v)
		mu.Unlock()
	}))

	s, err := m.Start("traced", fn, Options{Technique: "Powell"})
	require.NoError(t, err)
	st := wait(t, s)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, evaluated, notified)
	assert.Equal(t, st.Evaluations, len(notified))
}

type panicking struct{}

func (panicking) Name() string { return "Panicking" }
func (panicking) Optimize(context.Context, optimization.Target) (*optimization.Result, error) {
	panic("bad strategy")
}

func TestPanicFailsSession(t *testing.T) {
	factory := techniques.NewFactory()
	factory.Register("Panicking", func(...optimization.Option) optimization.Strategy { return panicking{} })
	core, logs := observer.New(zap.DebugLevel)
	m := NewManager(factory, Config{Logger: zap.New(core)})
	defer m.Close(context.Background())

	fn := samsClub(t)
	s, err := m.Start(functions.SamsClub, fn, Options{Technique: "panicking"})
	require.NoError(t, err)
	st := wait(t, s)

	assert.Equal(t, Failed, st.State)
	assert.Equal(t, "panic: bad strategy", st.Error)
	assert.False(t, fn.Running())

	ended := logs.FilterMessage("session ended").All()
	require.Len(t, ended, 1)
	assert.Equal(t, zap.WarnLevel, ended[0].Level)
	assert.NotEmpty(t, ended[0].ContextMap()["stack"], "panics are logged with their stack")
}

func TestHooksAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	m := newManager(t, Config{Metrics: met})

	var mu sync.Mutex
	var finished []Status
	m.OnFinish(func(st Status) {
		mu.Lock()
		finished = append(finished, st)
		mu.Unlock()
	})

	fn := samsClub(t)
	s, err := m.Start(functions.SamsClub, fn, Options{Technique: "Powell", MaxIterations: 2})
	require.NoError(t, err)
	wait(t, s)

	mu.Lock()
	require.Len(t, finished, 1)
	assert.Equal(t, s.ID(), finished[0].ID)
	assert.Equal(t, Completed, finished[0].State)
	mu.Unlock()

	count, err := testutil.GatherAndCount(reg, "extrema_sessions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestListAndRetention(t *testing.T) {
	m := newManager(t, Config{Retained: 2})
	fn := samsClub(t)

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := m.Start(functions.SamsClub, fn, Options{Technique: "Powell", MaxIterations: 1})
		require.NoError(t, err)
		wait(t, s)
		ids = append(ids, s.ID())
	}

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, ids[1], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)

	_, err := m.Get(ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseCancelsRunningSessions(t *testing.T) {
	m := NewManager(techniques.NewFactory(), Config{})
	fn := slow(t, time.Millisecond)

	s, err := m.Start("slow", fn, Options{Technique: "RandomWalk"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	st := s.Status()
	assert.Equal(t, Cancelled, st.State)
	assert.Equal(t, ErrShutdown.Error(), st.Error)

	_, err = m.Start("slow", fn, Options{Technique: "Powell"})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestWorkerBound(t *testing.T) {
	m := newManager(t, Config{Workers: 1})
	a := slow(t, time.Millisecond)

	var bCalls atomic.Int32
	b, err := objective.New("b", []string{"x"}, []float64{1}, true, func(x []float64) (float64, error) {
		bCalls.Add(1)
		return x[0] * x[0], nil
	})
	require.NoError(t, err)

	first, err := m.Start("a", a, Options{Technique: "RandomWalk"})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	second, err := m.Start("b", b, Options{Technique: "Powell"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), bCalls.Load(), "second session waits for a free worker")
	assert.Equal(t, Running, second.State())

	first.Cancel()
	wait(t, first)
	assert.Equal(t, Completed, wait(t, second).State)
	assert.Positive(t, bCalls.Load())
}

func TestWaitHonoursContext(t *testing.T) {
	m := newManager(t, Config{})
	fn := slow(t, time.Millisecond)

	s, err := m.Start("slow", fn, Options{Technique: "RandomWalk"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	st, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Running, st.State)

	s.Cancel()
	wait(t, s)
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, Idle.Terminal())
	assert.False(t, Running.Terminal())
	assert.True(t, Completed.Terminal())
	assert.True(t, Cancelled.Terminal())
	assert.True(t, Failed.Terminal())
}
