package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/klinikgigi/queue-engine/pkg/logging"
)

const DefaultQueueKey = "notify:jobs"

// RedisQueue is a list based job queue: producers LPUSH, workers BRPOP.
type RedisQueue struct {
	client       redis.UniversalClient
	key          string
	blockTimeout time.Duration
	logger       *logging.Logger
}

func NewRedisQueue(client redis.UniversalClient, key string, logger *logging.Logger) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisQueue{
		client:       client,
		key:          key,
		blockTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// WithBlockTimeout sets how long one BRPOP waits before the loop re-checks ctx.
func (q *RedisQueue) WithBlockTimeout(d time.Duration) *RedisQueue {
	if d > 0 {
		q.blockTimeout = d
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	raw, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.key, err)
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Consume pops jobs until ctx is cancelled. Malformed payloads are logged
// and dropped.
func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := q.client.BRPop(ctx, q.blockTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error("redis queue pop failed", "key", q.key, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		job, err := decodeJob([]byte(res[1]))
		if err != nil {
			q.logger.Error("dropping malformed notification job", "key", q.key, "error", err)
			continue
		}
		handler(ctx, job)
	}
}
