package cache

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SPRAWL_TEST_REDIS_ADDR points the Redis tests at a disposable server.
func newTestRedis(t *testing.T) *RedisBackend {
	t.Helper()
	addr := os.Getenv("SPRAWL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SPRAWL_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	prefix := "sprawl-test:" + t.Name() + ":"
	b := NewRedis(client, prefix)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := b.List(ctx, "")
		for _, k := range keys {
			b.Delete(ctx, k) //nolint:errcheck
		}
		b.Close() //nolint:errcheck
	})
	return b
}

func TestRedisBackend(t *testing.T) {
	exerciseBackend(t, newTestRedis(t))
}

func TestNewRedis_DefaultPrefix(t *testing.T) {
	b := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	defer b.Close() //nolint:errcheck
	assert.Equal(t, DefaultRedisPrefix, b.prefix)
}

func TestRedisBackend_Unreachable(t *testing.T) {
	b := OpenRedis("127.0.0.1:1", "", 0, "")
	defer b.Close() //nolint:errcheck
	b.retry.MaxAttempts = 1

	_, _, err := b.Get(context.Background(), "registry/2013-01-01.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: get")
}
