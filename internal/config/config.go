// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/extrema/internal/functions"
	"github.com/copyleftdev/extrema/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		// Techniques is the comma-delimited list offered to callers.
		Techniques     string        `env:"OPTIMIZERS" envDefault:"RandomWalk,Powell"`
		WorkerCount    int           `env:"OPT_WORKER_COUNT" envDefault:"10"`
		MaxIterations  int           `env:"OPT_MAX_ITERATIONS" envDefault:"5000"`
		Tolerance      float64       `env:"OPT_TOLERANCE" envDefault:"1e-6"`
		InitialStep    float64       `env:"OPT_INITIAL_STEP" envDefault:"1.0"`
		Seed           int64         `env:"OPT_SEED" envDefault:"0"`
		SessionTimeout time.Duration `env:"OPT_SESSION_TIMEOUT" envDefault:"0s"`
	}
	Functions struct {
		Keys         []string `env:"FUNCTIONS" envSeparator:"," envDefault:"samsClub,dell,minAbsSum"`
		OverrideFile string   `env:"FUNCTIONS_FILE"`

		// Overrides is read from OverrideFile by Load.
		Overrides functions.Overrides
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	keys := cfg.Functions.Keys[:0]
	for _, k := range cfg.Functions.Keys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	cfg.Functions.Keys = keys

	if cfg.Functions.OverrideFile != "" {
		o, err := functions.LoadOverrides(cfg.Functions.OverrideFile)
		if err != nil {
			return nil, err
		}
		cfg.Functions.Overrides = o
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	switch {
	case c.Optimization.WorkerCount < 1:
		return fmt.Errorf("OPT_WORKER_COUNT must be positive, got %d", c.Optimization.WorkerCount)
	case c.Optimization.MaxIterations < 1:
		return fmt.Errorf("OPT_MAX_ITERATIONS must be positive, got %d", c.Optimization.MaxIterations)
	case c.Optimization.Tolerance <= 0:
		return fmt.Errorf("OPT_TOLERANCE must be positive, got %g", c.Optimization.Tolerance)
	case c.Optimization.InitialStep <= 0:
		return fmt.Errorf("OPT_INITIAL_STEP must be positive, got %g", c.Optimization.InitialStep)
	case c.Optimization.SessionTimeout < 0:
		return fmt.Errorf("OPT_SESSION_TIMEOUT must not be negative, got %s", c.Optimization.SessionTimeout)
	case strings.TrimSpace(strings.ReplaceAll(c.Optimization.Techniques, ",", "")) == "":
		return fmt.Errorf("OPTIMIZERS must name at least one technique")
	case len(c.Functions.Keys) == 0:
		return fmt.Errorf("FUNCTIONS must name at least one function")
	}
	return nil
}

// StrategyOptions turns the optimization settings into strategy options.
func (c *Config) StrategyOptions() []optimization.Option {
	return []optimization.Option{
		optimization.WithMaxIterations(c.Optimization.MaxIterations),
		optimization.WithTolerance(c.Optimization.Tolerance),
		optimization.WithInitialStep(c.Optimization.InitialStep),
		optimization.WithSeed(c.Optimization.Seed),
	}
}
