package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/extrema/internal/functions"
	"github.com/copyleftdev/extrema/internal/logging"
	"github.com/copyleftdev/extrema/internal/objective"
	"github.com/copyleftdev/extrema/internal/session"
)

type runOptions struct {
	technique     string
	maxIterations int
	seed          int64
	timeout       time.Duration
	start         []float64
	trace         bool
	asJSON        bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <function>",
		Short: "Optimize one function",
		Long: `Runs one optimization session against a function and prints the best
point found. Interrupting the command cancels the session and reports the
best point so far.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.technique, "technique", "t", "", "Technique name (default: first of OPTIMIZERS)")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "Iteration budget (default: OPT_MAX_ITERATIONS)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed (default: OPT_SEED)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Wall-clock budget (default: OPT_SESSION_TIMEOUT)")
	cmd.Flags().Float64SliceVar(&opts.start, "start", nil, "Starting point, comma separated")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "Print every evaluation")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Write the final status as JSON")
	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer, key string, opts runOptions) error {
	set, err := functions.NewSet([]string{key}, a.cfg.Functions.Overrides)
	if err != nil {
		return err
	}
	fn, err := set.Get(key)
	if err != nil {
		return err
	}
	if opts.start != nil {
		if err := fn.SetInputValues(opts.start); err != nil {
			return err
		}
	}

	technique := opts.technique
	if technique == "" {
		offered, err := a.offered()
		if err != nil {
			return err
		}
		technique = offered[0]
	}

	if opts.trace {
		fn.RegisterObserver(traceObserver(out, fn))
	}

	mgr := session.NewManager(a.factory, session.Config{
		Workers: 1,
		Timeout: a.cfg.Optimization.SessionTimeout,
		Logger:  logging.NewZapLogger(a.logger),
	})
	defer mgr.Close(context.Background())

	sess, err := mgr.Start(key, fn, session.Options{
		Technique:     technique,
		MaxIterations: opts.maxIterations,
		Seed:          opts.seed,
		Timeout:       opts.timeout,
	})
	if err != nil {
		return err
	}
	logger := a.logger.WithSession(sess.ID(), key, sess.Technique())
	logger.Debug("Session started")

	select {
	case <-sess.Done():
	case <-ctx.Done():
		logger.Warn("Interrupted, cancelling session")
		sess.Cancel()
		<-sess.Done()
	}

	st := sess.Status()
	if opts.asJSON {
		if err := writeJSON(out, st); err != nil {
			return err
		}
	} else {
		rows := [][]string{
			{"Function", st.Title},
			{"Technique", st.Technique},
			{"State", string(st.State)},
			{"Output", formatFloat(st.Output)},
			{"Inputs", formatInputs(fn.InputNames(), st.Inputs)},
			{"Iterations", fmt.Sprint(st.Iterations)},
			{"Evaluations", fmt.Sprint(st.Evaluations)},
			{"Reason", st.Reason},
		}
		if _, err := fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, noHighlight, nil)); err != nil {
			return err
		}
	}

	if st.State == session.Failed {
		return fmt.Errorf("optimization failed: %s", st.Error)
	}
	return nil
}

// traceObserver prints each evaluation as it happens.
func traceObserver(out io.Writer, fn *objective.Function) objective.Observer {
	var n atomic.Int64
	names := fn.InputNames()
	return objective.NewObserverFunc(func(values []float64) {
		fmt.Fprintf(out, "#%d %s -> %s\n", n.Add(1), formatInputs(names, values), formatFloat(fn.Output()))
	})
}
