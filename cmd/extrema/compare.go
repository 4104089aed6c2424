package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/extrema/internal/functions"
	"github.com/copyleftdev/extrema/internal/optimization"
)

type compareOptions struct {
	techniques    []string
	maxIterations int
	seed          int64
	asJSON        bool
}

// comparison is one technique's outcome on a fresh copy of the function.
type comparison struct {
	Technique   string        `json:"technique"`
	Output      float64       `json:"output"`
	Inputs      []float64     `json:"inputs"`
	Iterations  int           `json:"iterations"`
	Evaluations int           `json:"evaluations"`
	Reason      string        `json:"reason"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	Error       string        `json:"error,omitempty"`
}

func newCompareCmd(a *app) *cobra.Command {
	var opts compareOptions
	cmd := &cobra.Command{
		Use:   "compare <function>",
		Short: "Run several techniques on the same function and rank them",
		Long: `Runs each technique concurrently on its own copy of the function, all
from the same starting point, and ranks the results best first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.compare(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.techniques, "techniques", nil, "Techniques to compare (default: all)")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "Iteration budget per technique (default: OPT_MAX_ITERATIONS)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed (default: OPT_SEED)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Write the ranking as JSON")
	return cmd
}

func (a *app) compare(ctx context.Context, out io.Writer, key string, opts compareOptions) error {
	def, ok := functions.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", functions.ErrUnknownFunction, key)
	}
	if o, ok := a.cfg.Functions.Overrides[key]; ok {
		def = def.Apply(o)
	}

	names := a.factory.Names()
	if len(opts.techniques) > 0 {
		var err error
		if names, err = a.factory.Resolve(strings.Join(opts.techniques, ",")); err != nil {
			return err
		}
	}

	var stratOpts []optimization.Option
	if opts.maxIterations > 0 {
		stratOpts = append(stratOpts, optimization.WithMaxIterations(opts.maxIterations))
	}
	if opts.seed != 0 {
		stratOpts = append(stratOpts, optimization.WithSeed(opts.seed))
	}

	results := make([]comparison, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Optimization.WorkerCount)
	for i, name := range names {
		g.Go(func() error {
			fn, err := def.New()
			if err != nil {
				return err
			}
			strategy, err := a.factory.Create(name, stratOpts...)
			if err != nil {
				return err
			}
			if err := fn.SetStrategy(strategy); err != nil {
				return err
			}

			started := time.Now()
			res, err := fn.Optimize(gctx)
			c := comparison{Technique: strategy.Name(), Elapsed: time.Since(started)}
			switch {
			case res != nil:
				c.Output = res.Output
				c.Inputs = res.Inputs
				c.Iterations = res.Iterations
				c.Evaluations = res.Evaluations
				c.Reason = res.Reason
			default:
				c.Output = fn.Output()
				c.Inputs = fn.InputValues()
			}
			if err != nil {
				// A failing formula only sinks its own row.
				if !errors.Is(err, optimization.ErrRemoteFailure) {
					return err
				}
				c.Error = err.Error()
			}
			a.logger.Debug("Technique finished", map[string]interface{}{
				"technique":   c.Technique,
				"output":      c.Output,
				"evaluations": c.Evaluations,
				"elapsed_ms":  c.Elapsed.Milliseconds(),
			})
			results[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rank(results, def.Minimize)

	if opts.asJSON {
		return writeJSON(out, results)
	}

	rows := make([][]string, len(results))
	failed := make(map[int]bool)
	for i, c := range results {
		rows[i] = []string{
			fmt.Sprint(i + 1),
			c.Technique,
			formatFloat(c.Output),
			formatInputs(def.InputNames, c.Inputs),
			fmt.Sprint(c.Evaluations),
			c.Elapsed.Round(time.Microsecond).String(),
			c.Reason,
		}
		if c.Error != "" {
			failed[i] = true
			rows[i][6] = c.Error
		}
	}
	fmt.Fprintf(out, "%s (%s)\n", def.Title, direction(def.Minimize))
	_, err := fmt.Fprintln(out, renderTable(
		[]string{"#", "Technique", "Output", "Inputs", "Evaluations", "Elapsed", "Reason"},
		rows, 0, failed,
	))
	return err
}

// rank orders results best first. Failed runs sort last.
func rank(results []comparison, minimize bool) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if (a.Error == "") != (b.Error == "") {
			return a.Error == ""
		}
		return optimization.Better(minimize, a.Output, b.Output)
	})
}
