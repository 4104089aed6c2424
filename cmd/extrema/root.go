package main

import (
	"github.com/spf13/cobra"

	"github.com/copyleftdev/extrema/internal/config"
	"github.com/copyleftdev/extrema/internal/logging"
	"github.com/copyleftdev/extrema/internal/optimization/techniques"
)

// app carries what every subcommand needs. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	factory *techniques.Factory

	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "extrema",
		Short: "Optimize objective functions with pluggable techniques",
		Long: `Extrema searches for the optimum of named objective functions using
random walk, Powell's method, Nelder-Mead or a trust-region Bayesian
optimizer. Settings come from the same environment variables as the server
(OPTIMIZERS, FUNCTIONS, OPT_*).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newTechniquesCmd(a),
		newFunctionsCmd(a),
		newRunCmd(a),
		newCompareCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: a.logFormat,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger.WithField("command", cmd.Name())
	a.factory = techniques.NewFactory(cfg.StrategyOptions()...)
	return nil
}

// offered returns the techniques named by OPTIMIZERS.
func (a *app) offered() ([]string, error) {
	return a.factory.Resolve(a.cfg.Optimization.Techniques)
}
