package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brustt/logistics-sprawl/internal/config"
	"github.com/brustt/logistics-sprawl/internal/metrics"
)

func newTestCache(t *testing.T, opts Options) (*Cache, *FSBackend) {
	t.Helper()
	b, err := NewFS(t.TempDir())
	require.NoError(t, err)
	return New(b, opts), b
}

func TestMaterialize_ComputesOnce(t *testing.T) {
	c, _ := newTestCache(t, Options{})
	key := LayerKey(StageZone, "lyon", 2013, 25000)
	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"type":"FeatureCollection","features":[]}`), nil
	}

	first, err := c.Materialize(context.Background(), key, compute)
	require.NoError(t, err)
	second, err := c.Materialize(context.Background(), key, compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "second call must not recompute")
	assert.Equal(t, first, second)
}

func TestMaterialize_ComputeErrorWritesNothing(t *testing.T) {
	c, b := newTestCache(t, Options{})
	key := RegistryKey("2013-01-01")
	boom := eris.New("boom")

	_, err := c.Materialize(context.Background(), key, func(context.Context) ([]byte, error) {
		return []byte("partial"), boom
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, boom))

	_, ok, err := b.Get(context.Background(), key.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaterialize_CancelledDuringCompute(t *testing.T) {
	c, b := newTestCache(t, Options{})
	key := RegistryKey("2013-01-01")
	ctx, cancel := context.WithCancel(context.Background())

	_, err := c.Materialize(ctx, key, func(context.Context) ([]byte, error) {
		cancel()
		return []byte("late"), nil
	})
	require.Error(t, err)

	_, ok, err := b.Get(context.Background(), key.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaterialize_MemoAndMetrics(t *testing.T) {
	m, err := metrics.New(nil)
	require.NoError(t, err)
	c, b := newTestCache(t, Options{MemoTTL: time.Minute, Metrics: m})
	key := RegistryKey("2008-01-01")
	ctx := context.Background()

	compute := func(context.Context) ([]byte, error) { return []byte("siret\n"), nil }
	_, err = c.Materialize(ctx, key, compute)
	require.NoError(t, err)

	// The memo serves the artifact even once the backend copy is gone.
	require.NoError(t, b.Delete(ctx, key.String()))
	data, err := c.Materialize(ctx, key, func(context.Context) ([]byte, error) {
		t.Fatal("memo should have served the artifact")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "siret\n", string(data))

	count, err := testutil.GatherAndCount(m.Registry(), "sprawl_cache_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one miss series and one memo series")
}

func TestCache_DeleteAndList(t *testing.T) {
	c, b := newTestCache(t, Options{MemoTTL: time.Minute})
	ctx := context.Background()
	zone := LayerKey(StageZone, "lyon", 2013, 1000)

	require.NoError(t, c.Put(ctx, zone, []byte("z")))
	require.NoError(t, c.Put(ctx, RegistryKey("2013-01-01"), []byte("r")))
	require.NoError(t, b.Put(ctx, "notes/readme.txt", []byte("foreign")))

	keys, err := c.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []Key{RegistryKey("2013-01-01"), zone}, keys)

	require.NoError(t, c.Delete(ctx, zone))
	_, ok, err := c.Get(ctx, zone)
	require.NoError(t, err)
	assert.False(t, ok, "delete clears the memo too")
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := OpenBackend(ctx, config.CacheConfig{Backend: config.BackendFS}, filepath.Join(dir, "fs"))
	require.NoError(t, err)
	assert.IsType(t, &FSBackend{}, fs)

	sq, err := OpenBackend(ctx, config.CacheConfig{
		Backend:    config.BackendSQLite,
		SQLitePath: filepath.Join(dir, "nested", "artifacts.db"),
	}, "")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteBackend{}, sq)
	exerciseBackend(t, sq)
	require.NoError(t, sq.Close())

	rd, err := OpenBackend(ctx, config.CacheConfig{Backend: config.BackendRedis, RedisAddr: "127.0.0.1:1"}, dir)
	require.NoError(t, err)
	assert.IsType(t, &guarded{}, rd, "remote backends sit behind a circuit breaker")
	require.NoError(t, rd.Close())

	_, err = OpenBackend(ctx, config.CacheConfig{Backend: "s3"}, dir)
	assert.Error(t, err)
}
