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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/klinikgigi/queue-engine/internal/app"
	"github.com/klinikgigi/queue-engine/internal/config"
	"github.com/klinikgigi/queue-engine/internal/metrics"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "notification-worker", "env", cfg.Env)
	logger.Info("notification-worker starting up", "transport", cfg.NotifyTransport)

	if cfg.NotifyTransport == config.TransportInline {
		logger.Error("NOTIFY_TRANSPORT=inline delivers inside api-server, nothing to consume")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pool, err := app.OpenStore(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
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
	}

	qm := metrics.NewQueueMetrics(prometheus.DefaultRegisterer)
	notifier, err := app.NewNotifier(rootCtx, cfg, store, qm, logger)
	if err != nil {
		logger.Error("notifier setup error", "error", err)
		os.Exit(1)
	}

	consumer, err := app.NewConsumer(cfg, rdb, logger)
	if err != nil {
		logger.Error("notification consumer error", "error", err)
		os.Exit(1)
	}

	// Delivery counters are scraped from here.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	if err := consumer.Consume(rootCtx, notifier.Deliver); err != nil {
		logger.Error("consumer stopped", "error", err)
	}
	logger.Info("shutdown signal received, stopping notification-worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
