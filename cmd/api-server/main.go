package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/klinikgigi/queue-engine/internal/api"
	"github.com/klinikgigi/queue-engine/internal/app"
	"github.com/klinikgigi/queue-engine/internal/assignment"
	"github.com/klinikgigi/queue-engine/internal/clock"
	"github.com/klinikgigi/queue-engine/internal/config"
	"github.com/klinikgigi/queue-engine/internal/frontdesk"
	"github.com/klinikgigi/queue-engine/internal/lifecycle"
	"github.com/klinikgigi/queue-engine/internal/metrics"
	"github.com/klinikgigi/queue-engine/internal/queue"
	"github.com/klinikgigi/queue-engine/internal/sweeper"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server", "env", cfg.Env)
	logger.Info("api-server starting up", "http_port", cfg.HTTPPort, "store", cfg.StoreBackend, "transport", cfg.NotifyTransport)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pool, err := app.OpenStore(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	var checks []api.DependencyCheck
	if pool != nil {
		defer pool.Close()
		checks = append(checks, api.PostgresCheck(pool))
	}

	rdb, err := app.OpenRedis(rootCtx, cfg, logger, cfg.NotifyTransport == config.TransportRedis)
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("error closing redis", "error", err)
			}
		}()
		checks = append(checks, api.RedisCheck(rdb))
	}

	qm := metrics.NewQueueMetrics(prometheus.DefaultRegisterer)
	clk := clock.System()

	notifier, err := app.NewNotifier(rootCtx, cfg, store, qm, logger)
	if err != nil {
		logger.Error("notifier setup error", "error", err)
		os.Exit(1)
	}
	dispatcher, closeDispatcher, err := app.Dispatcher(cfg, rdb, notifier.Deliver, logger)
	if err != nil {
		logger.Error("notification transport error", "error", err)
		os.Exit(1)
	}
	defer closeDispatcher()

	machine := lifecycle.NewMachine(store, queue.NewLedger(clk, cfg.Location()),
		lifecycle.WithClock(clk),
		lifecycle.WithDispatcher(dispatcher),
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(qm),
	)
	policy := assignment.NewPolicy(machine, logger, qm)
	sw := sweeper.New(machine, clk, logger).
		WithBatchSize(cfg.SweepBatchSize).
		WithMetrics(qm)
	if locker := app.Locker(rdb, cfg); locker != nil {
		sw.WithLocker(locker)
	}
	svc := frontdesk.NewService(machine, policy, sw, clk, logger)

	router := api.NewRouter(api.RouterConfig{
		Service:                svc,
		Checks:                 checks,
		Logger:                 logger,
		Metrics:                qm,
		StaffJWTSecret:         cfg.StaffJWTSecret,
		LateThresholdMinutes:   cfg.LateThresholdMinutes,
		NoShowThresholdMinutes: cfg.NoShowThresholdMinutes,
		Env:                    cfg.Env,
		Version:                cfg.Version,
	})
	if cfg.StaffJWTSecret == "" {
		logger.Warn("STAFF_JWT_SECRET not set, staff routes answer 401")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// The in-memory store has no other process to sweep it.
	if cfg.StoreBackend == config.StoreMemory {
		runner := sweeper.NewRunner(sw, sweeper.RunnerConfig{
			Interval:        cfg.SweepInterval,
			LateThreshold:   cfg.LateThresholdMinutes,
			NoShowThreshold: cfg.NoShowThresholdMinutes,
		}, logger)
		go runner.Run(rootCtx)
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("api-server stopped")
}
