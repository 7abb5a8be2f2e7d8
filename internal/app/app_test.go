package app

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/config"
	"github.com/klinikgigi/queue-engine/internal/notify"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, "error")
}

func TestOpenStoreMemory(t *testing.T) {
	store, pool, err := OpenStore(context.Background(), config.Config{StoreBackend: config.StoreMemory}, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.IsType(t, &appointment.MemoryStore{}, store)
}

func TestDispatcherByTransport(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	noop := func(context.Context, notify.Job) {}

	d, closeFn, err := Dispatcher(config.Config{NotifyTransport: config.TransportInline}, nil, noop, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &notify.InlineDispatcher{}, d)
	closeFn()

	d, closeFn, err = Dispatcher(config.Config{NotifyTransport: config.TransportRedis, NotifyQueueKey: "jobs"}, rdb, noop, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &notify.RedisQueue{}, d)
	closeFn()

	_, _, err = Dispatcher(config.Config{NotifyTransport: config.TransportRedis}, nil, noop, quietLogger())
	assert.Error(t, err)

	_, _, err = Dispatcher(config.Config{NotifyTransport: config.TransportKafka}, nil, noop, quietLogger())
	assert.Error(t, err)
}

func TestNewConsumerRejectsInline(t *testing.T) {
	_, err := NewConsumer(config.Config{NotifyTransport: config.TransportInline}, nil, quietLogger())
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c, err := NewConsumer(config.Config{NotifyTransport: config.TransportRedis, NotifyQueueKey: "jobs"}, rdb, quietLogger())
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestOpenRedisOptional(t *testing.T) {
	cfg := config.Config{RedisAddr: "127.0.0.1:1"}

	rdb, err := OpenRedis(context.Background(), cfg, quietLogger(), false)
	assert.NoError(t, err)
	assert.Nil(t, rdb)
	assert.Nil(t, Locker(rdb, cfg))

	_, err = OpenRedis(context.Background(), cfg, quietLogger(), true)
	assert.Error(t, err)
}

func TestNewNotifierWithoutEmail(t *testing.T) {
	cfg := config.Config{EmailProvider: config.EmailNone, ClinicTimezone: "Asia/Kuala_Lumpur"}
	n, err := NewNotifier(context.Background(), cfg, appointment.NewMemoryStore(), nil, quietLogger())
	require.NoError(t, err)
	assert.NotNil(t, n)
}
