package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/klinikgigi/queue-engine/internal/app"
	"github.com/klinikgigi/queue-engine/internal/clock"
	"github.com/klinikgigi/queue-engine/internal/config"
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

	logger := logging.New(cfg.LogLevel).With("service", "sweeper", "env", cfg.Env)
	logger.Info("sweeper starting up",
		"interval", cfg.SweepInterval,
		"late_threshold_minutes", cfg.LateThresholdMinutes,
		"no_show_threshold_minutes", cfg.NoShowThresholdMinutes)

	if cfg.StoreBackend == config.StoreMemory {
		logger.Error("the sweeper needs a shared store, STORE_BACKEND=memory is only valid for api-server")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pool, err := app.OpenStore(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Several sweeper replicas may run; redis keeps each kind on one of them.
	rdb, err := app.OpenRedis(rootCtx, cfg, logger, true)
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("error closing redis", "error", err)
		}
	}()

	qm := metrics.NewQueueMetrics(prometheus.DefaultRegisterer)
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

	clk := clock.System()
	machine := lifecycle.NewMachine(store, queue.NewLedger(clk, cfg.Location()),
		lifecycle.WithClock(clk),
		lifecycle.WithDispatcher(dispatcher),
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(qm),
	)
	sw := sweeper.New(machine, clk, logger).
		WithLocker(app.Locker(rdb, cfg)).
		WithBatchSize(cfg.SweepBatchSize).
		WithMetrics(qm)

	runner := sweeper.NewRunner(sw, sweeper.RunnerConfig{
		Interval:        cfg.SweepInterval,
		LateThreshold:   cfg.LateThresholdMinutes,
		NoShowThreshold: cfg.NoShowThresholdMinutes,
	}, logger)
	runner.Run(rootCtx)
}
