package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix  = "lock:"
	defaultLockTTL = 30 * time.Second
)

var (
	// ErrLockNotAcquired means another holder has the lock; fn did not run.
	ErrLockNotAcquired = errors.New("lock held elsewhere")
	// ErrLockLost means fn finished after the lock had expired or changed hands.
	ErrLockLost = errors.New("lock expired before release")
)

// Locker makes a named section exclusive across processes.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// RedisLocker stores one key per lock name holding a random owner token.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Key is the redis key backing the lock called name.
func Key(name string) string {
	return lockKeyPrefix + name
}

// WithLock runs fn while holding the lock. fn's context is cut off at the
// lock ttl.
func (l *RedisLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := Key(name)
	owner := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	switch {
	case err != nil:
		return fmt.Errorf("lock %s: %w", name, err)
	case !acquired:
		return fmt.Errorf("%w: %s", ErrLockNotAcquired, name)
	}

	runCtx, cancel := context.WithTimeout(ctx, l.ttl)
	runErr := fn(runCtx)
	cancel()

	held, err := l.release(context.WithoutCancel(ctx), key, owner)
	switch {
	case runErr != nil:
		return runErr
	case err != nil:
		return err
	case !held:
		return fmt.Errorf("%w: %s", ErrLockLost, name)
	}
	return nil
}

// Deletes the key only while it still carries our owner token.
var releaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`)

func (l *RedisLocker) release(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("unlock %s: %w", key, err)
	}
	return n == 1, nil
}
