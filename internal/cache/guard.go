package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/resilience"
)

// guarded routes every call of a remote backend through a circuit breaker.
type guarded struct {
	Backend
	breaker *resilience.Breaker
}

// Guard wraps b so that repeated transient failures make calls fail fast
// with resilience.ErrCircuitOpen until the reset timeout elapses.
func Guard(b Backend, name string, cfg resilience.BreakerConfig) Backend {
	cfg.OnStateChange = func(from, to resilience.State) {
		zap.L().Warn("cache: backend circuit changed",
			zap.String("backend", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &guarded{Backend: b, breaker: resilience.NewBreaker(cfg)}
}

type getResult struct {
	data []byte
	ok   bool
}

func (g *guarded) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (getResult, error) {
		data, ok, err := g.Backend.Get(ctx, key)
		return getResult{data, ok}, err
	})
	return res.data, res.ok, err
}

func (g *guarded) Put(ctx context.Context, key string, data []byte) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.Backend.Put(ctx, key, data)
	})
}

func (g *guarded) Delete(ctx context.Context, key string) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.Backend.Delete(ctx, key)
	})
}

func (g *guarded) List(ctx context.Context, prefix string) ([]string, error) {
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) ([]string, error) {
		return g.Backend.List(ctx, prefix)
	})
}
