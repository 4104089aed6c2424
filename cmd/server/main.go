package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/extrema/internal/config"
	apperrors "github.com/copyleftdev/extrema/internal/errors"
	"github.com/copyleftdev/extrema/internal/functions"
	"github.com/copyleftdev/extrema/internal/logging"
	"github.com/copyleftdev/extrema/internal/metrics"
	"github.com/copyleftdev/extrema/internal/objective"
	"github.com/copyleftdev/extrema/internal/optimization/techniques"
	"github.com/copyleftdev/extrema/internal/server"
	"github.com/copyleftdev/extrema/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use standard logger as fallback if config loading fails
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Create a service logger with additional fields
	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "extrema",
		"env":     cfg.Environment,
	})

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Domain services
	factory := techniques.NewFactory(cfg.StrategyOptions()...)
	set, err := functions.NewSet(cfg.Functions.Keys, cfg.Functions.Overrides)
	if err != nil {
		serviceLogger.Fatal("Failed to build functions", map[string]interface{}{"error": err.Error()})
	}
	set.Each(func(key string, fn *objective.Function) {
		m.Observe(key, fn)
	})

	sessions := session.NewManager(factory, session.Config{
		Workers: int64(cfg.Optimization.WorkerCount),
		Timeout: cfg.Optimization.SessionTimeout,
		Logger:  logging.NewZapLogger(serviceLogger),
		Metrics: m,
	})

	srv, err := server.NewServer(cfg, serviceLogger, server.Dependencies{
		Factory:   factory,
		Functions: set,
		Sessions:  sessions,
	})
	if err != nil {
		serviceLogger.Fatal("Failed to create server", map[string]interface{}{"error": err.Error()})
	}

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(apperrors.RecoveryMiddleware(serviceLogger))

	// Add health check endpoint
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if l := logging.FromContext(r.Context()); l != nil {
			l.Debug("Health check")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Add metrics endpoint
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start HTTP server
	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address":    httpServer.Addr,
			"techniques": srv.Techniques(),
			"functions":  set.Keys(),
		})

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	serviceLogger.Info("Shutting down server...")

	// Create a deadline to wait for
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	// Streams end first so Shutdown does not wait on them.
	if err := srv.Close(); err != nil {
		serviceLogger.Error("error closing server resources", map[string]interface{}{"error": err.Error()})
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	if err := sessions.Close(shutdownCtx); err != nil {
		serviceLogger.Error("Sessions did not stop in time", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	serviceLogger.Info("server exited properly")
}
