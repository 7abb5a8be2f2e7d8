// Package app wires configuration into the stores, transports and senders
// shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/config"
	"github.com/klinikgigi/queue-engine/internal/db"
	"github.com/klinikgigi/queue-engine/internal/metrics"
	"github.com/klinikgigi/queue-engine/internal/notify"
	redisclient "github.com/klinikgigi/queue-engine/internal/redis"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

// OpenStore returns the configured store. pool is nil for the memory backend.
func OpenStore(ctx context.Context, cfg config.Config, logger *logging.Logger) (appointment.Store, *pgxpool.Pool, error) {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("using in-memory store, data is lost on restart")
		return appointment.NewMemoryStore(), nil, nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(pgCtx, db.PoolOptions{
		DSN:      cfg.PostgresDSN,
		MaxConns: cfg.PostgresMaxConns,
		AppName:  "queue-engine-" + cfg.Env,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to postgres", "max_conns", cfg.PostgresMaxConns)
	return appointment.NewPgStore(pool), pool, nil
}

// OpenRedis connects to redis. A failure is fatal only when required is set;
// otherwise it is logged and nil is returned.
func OpenRedis(ctx context.Context, cfg config.Config, logger *logging.Logger, required bool) (*redis.Client, error) {
	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		if required {
			return nil, err
		}
		logger.Warn("redis unavailable, running without distributed locks", "addr", cfg.RedisAddr, "error", err)
		return nil, nil
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)
	return rdb, nil
}

// Locker returns nil when there is no redis client.
func Locker(rdb *redis.Client, cfg config.Config) redisclient.Locker {
	if rdb == nil {
		return nil
	}
	return redisclient.NewRedisLocker(rdb, cfg.LockTTL)
}

// NewNotifier builds the notifier with the configured SMS and email senders.
func NewNotifier(ctx context.Context, cfg config.Config, store appointment.Store, qm *metrics.QueueMetrics, logger *logging.Logger) (*notify.Notifier, error) {
	var sms notify.SMSSender
	if cfg.SMSWebhookURL != "" {
		sms = notify.NewWebhookSender(cfg.SMSWebhookURL, cfg.SMSWebhookToken)
	} else {
		logger.Warn("SMS_WEBHOOK_URL not set, messages are only logged")
		sms = notify.NewLogSender(logger)
	}

	n := notify.NewNotifier(store, sms, logger).
		WithLocation(cfg.Location()).
		WithMetrics(qm)

	switch cfg.EmailProvider {
	case config.EmailSendGrid:
		n.WithEmail(notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger))
	case config.EmailSES:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		n.WithEmail(notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger))
	}
	return n, nil
}

// Dispatcher is the producing side of the notification transport. The
// returned func flushes or releases it.
func Dispatcher(cfg config.Config, rdb *redis.Client, handler notify.Handler, logger *logging.Logger) (notify.Dispatcher, func(), error) {
	switch cfg.NotifyTransport {
	case config.TransportRedis:
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis transport needs a redis connection")
		}
		return notify.NewRedisQueue(rdb, cfg.NotifyQueueKey, logger), func() {}, nil
	case config.TransportKafka:
		q, err := notify.NewKafkaQueue(kafkaConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return q, func() {
			if err := q.Close(); err != nil {
				logger.Error("close kafka writer", "error", err)
			}
		}, nil
	default:
		inline := notify.NewInlineDispatcher(handler, cfg.NotifyWorkers, 0, logger)
		return inline, inline.Close, nil
	}
}

// Consumer is the consuming side of a remote notification transport.
type Consumer interface {
	Consume(ctx context.Context, handler notify.Handler) error
}

func NewConsumer(cfg config.Config, rdb *redis.Client, logger *logging.Logger) (Consumer, error) {
	switch cfg.NotifyTransport {
	case config.TransportRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis transport needs a redis connection")
		}
		return notify.NewRedisQueue(rdb, cfg.NotifyQueueKey, logger), nil
	case config.TransportKafka:
		return notify.NewKafkaConsumer(kafkaConfig(cfg), logger)
	default:
		return nil, fmt.Errorf("transport %q is delivered in-process, nothing to consume", cfg.NotifyTransport)
	}
}

func kafkaConfig(cfg config.Config) notify.KafkaConfig {
	return notify.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.KafkaGroupID,
	}
}
