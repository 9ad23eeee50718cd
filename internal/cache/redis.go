package cache

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/brustt/logistics-sprawl/internal/resilience"
)

// DefaultRedisPrefix namespaces artifact keys in a shared Redis.
const DefaultRedisPrefix = "sprawl:"

// RedisBackend stores artifacts as plain string values, object-store style.
type RedisBackend struct {
	client *redis.Client
	prefix string
	retry  resilience.RetryConfig
}

// NewRedis wraps a client. An empty prefix uses DefaultRedisPrefix.
func NewRedis(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("redis", "cache")
	return &RedisBackend{client: client, prefix: prefix, retry: cfg}
}

// WithRetry replaces the retry policy, keeping the retry logger.
func (r *RedisBackend) WithRetry(rc resilience.RetryConfig) *RedisBackend {
	rc.OnRetry = r.retry.OnRetry
	r.retry = rc
	return r
}

// OpenRedis dials addr and returns a backend over the new client.
func OpenRedis(addr, password string, dbIndex int, prefix string) *RedisBackend {
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: dbIndex}), prefix)
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) ([]byte, error) {
		return r.client.Get(ctx, r.prefix+key).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "redis: get %s", key)
	}
	return data, true, nil
}

func (r *RedisBackend) Put(ctx context.Context, key string, data []byte) error {
	err := resilience.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.client.Set(ctx, r.prefix+key, data, 0).Err()
	})
	return eris.Wrapf(err, "redis: put %s", key)
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return eris.Wrapf(r.client.Del(ctx, r.prefix+key).Err(), "redis: delete %s", key)
}

// List walks the key space with SCAN.
func (r *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "redis: scan")
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
