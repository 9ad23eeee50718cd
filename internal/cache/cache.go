package cache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/config"
	"github.com/brustt/logistics-sprawl/internal/db"
	"github.com/brustt/logistics-sprawl/internal/metrics"
	"github.com/brustt/logistics-sprawl/internal/resilience"
)

// ComputeFunc produces the bytes of an artifact on a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache fronts a Backend with an in-process memo and hit/miss accounting.
type Cache struct {
	backend Backend
	memo    *gocache.Cache
	metrics *metrics.Metrics
	log     *zap.Logger
}

// Options tunes a Cache. A zero MemoTTL disables the memo.
type Options struct {
	MemoTTL time.Duration
	Metrics *metrics.Metrics
}

// New wraps backend.
func New(backend Backend, opts Options) *Cache {
	c := &Cache{
		backend: backend,
		metrics: opts.Metrics,
		log:     zap.L().With(zap.String("component", "cache")),
	}
	if opts.MemoTTL > 0 {
		// No janitor goroutine: expired entries are dropped on access.
		c.memo = gocache.New(opts.MemoTTL, 0)
	}
	return c
}

// Backend returns the wrapped backend.
func (c *Cache) Backend() Backend { return c.backend }

// Materialize returns the artifact for key, calling compute only when the
// backend has no entry. The result is written after compute succeeds, so a
// failed or cancelled computation leaves no partial artifact.
func (c *Cache) Materialize(ctx context.Context, key Key, compute ComputeFunc) ([]byte, error) {
	path := key.String()
	stage := string(key.Stage)

	if data, ok := c.memoGet(path); ok {
		c.metrics.CacheMemo(stage)
		return data, nil
	}

	data, ok, err := c.backend.Get(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: lookup %s", path)
	}
	if ok {
		c.metrics.CacheHit(stage)
		c.log.Debug("cache hit", zap.String("key", path), zap.Int("bytes", len(data)))
		c.memoSet(path, data)
		return data, nil
	}

	c.metrics.CacheMiss(stage)
	c.log.Debug("cache miss", zap.String("key", path))
	data, err = compute(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "cache: compute %s", path)
	}
	if err := c.backend.Put(ctx, path, data); err != nil {
		return nil, eris.Wrapf(err, "cache: store %s", path)
	}
	c.memoSet(path, data)
	return data, nil
}

// Get reads an artifact without computing it.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	path := key.String()
	if data, ok := c.memoGet(path); ok {
		return data, true, nil
	}
	data, ok, err := c.backend.Get(ctx, path)
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: get %s", path)
	}
	return data, ok, nil
}

// Put stores an artifact unconditionally.
func (c *Cache) Put(ctx context.Context, key Key, data []byte) error {
	path := key.String()
	if err := c.backend.Put(ctx, path, data); err != nil {
		return eris.Wrapf(err, "cache: put %s", path)
	}
	c.memoSet(path, data)
	return nil
}

// Delete removes an artifact from the backend and the memo.
func (c *Cache) Delete(ctx context.Context, key Key) error {
	path := key.String()
	if c.memo != nil {
		c.memo.Delete(path)
	}
	return c.backend.Delete(ctx, path)
}

// List returns the keys under prefix. Entries that do not parse as keys are
// skipped.
func (c *Cache) List(ctx context.Context, prefix string) ([]Key, error) {
	paths, err := c.backend.List(ctx, prefix)
	if err != nil {
		return nil, eris.Wrap(err, "cache: list")
	}
	keys := make([]Key, 0, len(paths))
	for _, p := range paths {
		k, err := ParseKey(p)
		if err != nil {
			c.log.Debug("skipping foreign cache entry", zap.String("path", p))
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c.memo != nil {
		c.memo.Flush()
	}
	return c.backend.Close()
}

func (c *Cache) memoGet(path string) ([]byte, bool) {
	if c.memo == nil {
		return nil, false
	}
	v, ok := c.memo.Get(path)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (c *Cache) memoSet(path string, data []byte) {
	if c.memo != nil {
		c.memo.SetDefault(path, data)
	}
}

// OpenBackend builds the backend named by cfg.Backend and runs its
// migration when it has one.
func OpenBackend(ctx context.Context, cfg config.CacheConfig, cacheDir string) (Backend, error) {
	var (
		b   Backend
		err error
	)
	retry := resilience.NewRetryConfig(cfg.RetryAttempts, cfg.RetryBackoffMs)
	switch cfg.Backend {
	case config.BackendFS, "":
		b, err = NewFS(cacheDir)
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, eris.Wrap(err, "cache: create sqlite dir")
		}
		b, err = NewSQLite(cfg.SQLitePath)
	case config.BackendPostgres:
		pool, perr := db.Connect(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.MaxConns})
		if perr != nil {
			return nil, eris.Wrap(perr, "cache: connect postgres")
		}
		b = NewPostgres(pool).WithRetry(retry)
	case config.BackendRedis:
		b = OpenRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix).WithRetry(retry)
	default:
		return nil, eris.Errorf("cache: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if m, ok := b.(Migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			b.Close() //nolint:errcheck
			return nil, err
		}
	}
	if cfg.Backend == config.BackendPostgres || cfg.Backend == config.BackendRedis {
		b = Guard(b, cfg.Backend, resilience.NewBreakerConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs))
	}
	return b, nil
}

// Open builds the configured backend wrapped in a Cache.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Cache, error) {
	b, err := OpenBackend(ctx, cfg.Cache, cfg.Paths.CacheDir)
	if err != nil {
		return nil, err
	}
	return New(b, Options{
		MemoTTL: time.Duration(cfg.Cache.MemoTTLSecs) * time.Second,
		Metrics: m,
	}), nil
}
