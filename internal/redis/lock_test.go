package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisLocker(client, ttl)
}

func TestWithLockRunsAndReleases(t *testing.T) {
	mr, locker := newTestLocker(t, 5*time.Second)

	ran := false
	err := locker.WithLock(context.Background(), "sweeper:late", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:sweeper:late"))
		assert.Equal(t, 5*time.Second, mr.TTL("lock:sweeper:late"))
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:sweeper:late"))
}

func TestWithLockRejectsSecondHolder(t *testing.T) {
	_, locker := newTestLocker(t, 5*time.Second)

	err := locker.WithLock(context.Background(), "sweeper:no_show", func(ctx context.Context) error {
		inner := locker.WithLock(ctx, "sweeper:no_show", func(context.Context) error {
			t.Fatal("nested holder must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithLockPropagatesErrorAndReleases(t *testing.T) {
	mr, locker := newTestLocker(t, 5*time.Second)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(Key("k")))
}

func TestWithLockReportsExpiredLock(t *testing.T) {
	mr, locker := newTestLocker(t, time.Second)

	err := locker.WithLock(context.Background(), "k", func(context.Context) error {
		mr.FastForward(2 * time.Second)
		return nil
	})
	assert.ErrorIs(t, err, ErrLockLost)
}

func TestReleaseLeavesForeignToken(t *testing.T) {
	mr, locker := newTestLocker(t, 5*time.Second)

	err := locker.WithLock(context.Background(), "k", func(context.Context) error {
		// Expired, then taken by another instance.
		require.NoError(t, mr.Set(Key("k"), "someone-else"))
		return nil
	})
	assert.ErrorIs(t, err, ErrLockLost)

	got, err := mr.Get(Key("k"))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestNewRedisLockerDefaultsTTL(t *testing.T) {
	_, locker := newTestLocker(t, 0)
	assert.Equal(t, defaultLockTTL, locker.ttl)
}
