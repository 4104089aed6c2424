package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/copyleftdev/extrema/internal/errors"
	"github.com/copyleftdev/extrema/internal/metrics"
	"github.com/copyleftdev/extrema/internal/objective"
	"github.com/copyleftdev/extrema/internal/optimization"
	"github.com/copyleftdev/extrema/internal/optimization/techniques"
)

// DefaultRetained is the number of finished sessions kept for status
// queries when Config.Retained is zero.
const DefaultRetained = 256

// Config configures a Manager.
type Config struct {
	// Workers bounds the number of concurrently running strategies.
	Workers int64
	// Timeout is the default wall-clock budget per session; zero means none.
	Timeout time.Duration
	// Retained caps how many finished sessions stay queryable.
	Retained int
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// Options configure a single session.
type Options struct {
	Technique string
	// MaxIterations overrides the factory default when positive.
	MaxIterations int
	// Seed overrides the factory default when non-zero.
	Seed int64
	// Timeout overrides Config.Timeout when positive.
	Timeout time.Duration
}

// Manager starts sessions and keeps them queryable by id.
type Manager struct {
	factory  *techniques.Factory
	logger   *zap.Logger
	metrics  *metrics.Metrics
	sem      *semaphore.Weighted
	timeout  time.Duration
	retained int

	base context.Context
	stop context.CancelCauseFunc
	wg   sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	sessions map[string]*Session
	order    []string
	hooks    []func(Status)
}

// NewManager creates a Manager that resolves techniques through factory.
func NewManager(factory *techniques.Factory, cfg Config) *Manager {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Retained < 1 {
		cfg.Retained = DefaultRetained
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Manager{
		factory:  factory,
		logger:   cfg.Logger.Named("session"),
		metrics:  cfg.Metrics,
		sem:      semaphore.NewWeighted(cfg.Workers),
		timeout:  cfg.Timeout,
		retained: cfg.Retained,
		base:     base,
		stop:     stop,
		sessions: make(map[string]*Session),
	}
}

// OnFinish registers a hook called with the final status of every session.
// Hooks run on the worker goroutine before Done is closed.
func (m *Manager) OnFinish(hook func(Status)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

// Start validates the technique, claims fn and launches the run on a
// worker goroutine. It returns immediately with the running session.
// Validation errors (unknown technique, busy function) are returned here
// and no session is created.
func (m *Manager) Start(key string, fn *objective.Function, opts Options) (*Session, error) {
	var stratOpts []optimization.Option
	if opts.MaxIterations > 0 {
		stratOpts = append(stratOpts, optimization.WithMaxIterations(opts.MaxIterations))
	}
	if opts.Seed != 0 {
		stratOpts = append(stratOpts, optimization.WithSeed(opts.Seed))
	}
	strategy, err := m.factory.Create(opts.Technique, stratOpts...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, apperrors.Wrap(ErrShutdown, "start session").WithComponent("session")
	}
	if err := fn.Acquire(strategy); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(m.base)
	s := &Session{
		id:        uuid.NewString(),
		key:       key,
		technique: strategy.Name(),
		fn:        fn,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     Running,
		started:   time.Now(),
	}
	m.sessions[s.id] = s
	m.order = append(m.order, s.id)
	m.pruneLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	timeout := m.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	m.logger.Info("session started",
		zap.String("session_id", s.id),
		zap.String("function", key),
		zap.String("technique", s.technique),
		zap.Duration("timeout", timeout),
	)

	go m.run(ctx, s, strategy, timeout)
	return s, nil
}

func (m *Manager) run(ctx context.Context, s *Session, strategy optimization.Strategy, timeout time.Duration) {
	defer m.wg.Done()
	defer s.cancel(nil)

	if timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, timeout, ErrTimeBudget)
		defer stop()
	}

	var (
		res *optimization.Result
		err error
	)
	m.metrics.SessionStarted()
	if err = m.sem.Acquire(ctx, 1); err == nil {
		res, err = optimize(ctx, strategy, s.fn)
		m.sem.Release(1)
	}

	state, err := classify(ctx, err)
	if state == Completed && res != nil && res.Reason == optimization.ReasonCancelled {
		res.Reason = optimization.ReasonTimeBudget
	}
	// Terminal before the function is freed.
	s.finish(state, res, err)
	s.fn.Release()
	m.metrics.SessionFinished(s.technique, string(state), time.Since(s.started))

	st := s.Status()
	fields := []zap.Field{
		zap.String("session_id", s.id),
		zap.String("state", string(state)),
		zap.Float64("output", st.Output),
		zap.Int("evaluations", st.Evaluations),
		zap.Duration("elapsed", time.Since(s.started)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		if stack := apperrors.StackOf(err); len(stack) > 0 {
			fields = append(fields, zap.Strings("stack", stack))
		}
		m.logger.Warn("session ended", fields...)
	} else {
		m.logger.Info("session ended", fields...)
	}

	m.mu.RLock()
	hooks := slices.Clone(m.hooks)
	m.mu.RUnlock()
	for _, h := range hooks {
		h(st)
	}
	close(s.done)
}

// optimize runs the strategy and turns a panic into a failed run.
func optimize(ctx context.Context, strategy optimization.Strategy, fn *objective.Function) (res *optimization.Result, err error) {
	defer func() {
		if perr := apperrors.FromPanic(recover()); perr != nil {
			res, err = nil, perr
		}
	}()
	return strategy.Optimize(ctx, fn)
}

// classify maps the run's outcome to a terminal state. A budget timeout is a
// normal completion, so its error is dropped.
func classify(ctx context.Context, err error) (State, error) {
	if err == nil {
		return Completed, nil
	}
	if errors.Is(err, optimization.ErrRemoteFailure) {
		return Failed, err
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrTimeBudget) {
			return Completed, nil
		}
		return Cancelled, cause
	}
	return Failed, err
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, apperrors.Wrapf(ErrNotFound, "lookup %q", id)
	}
	return s, nil
}

// Cancel cancels the session with id.
func (m *Manager) Cancel(id string) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.Cancel()
	return s, nil
}

// List returns the status of every retained session, oldest first.
func (m *Manager) List() []Status {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		sessions = append(sessions, m.sessions[id])
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// Active returns the running session for function key, if any.
func (m *Manager) Active(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.sessions[m.order[i]]
		if s.key == key && !s.State().Terminal() {
			return s, true
		}
	}
	return nil, false
}

// pruneLocked drops the oldest finished sessions beyond the retention cap.
func (m *Manager) pruneLocked() {
	excess := len(m.order) - m.retained
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && m.sessions[id].State().Terminal() {
			delete(m.sessions, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

// Close cancels every running session and waits for the workers to exit or
// ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.stop(ErrShutdown)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
