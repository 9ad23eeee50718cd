package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/brustt/logistics-sprawl/internal/cache"
	"github.com/brustt/logistics-sprawl/internal/config"
	"github.com/brustt/logistics-sprawl/internal/metrics"
	"github.com/brustt/logistics-sprawl/internal/pipeline"
	"github.com/brustt/logistics-sprawl/internal/topo"
)

// pipelineEnv holds the cache, metrics and layer source shared by the
// pipeline commands.
type pipelineEnv struct {
	Cache   *cache.Cache
	Metrics *metrics.Metrics
	Topo    *topo.Source
}

// Close releases the cache backend.
func (pe *pipelineEnv) Close() {
	if pe.Cache != nil {
		_ = pe.Cache.Close()
	}
}

// Deps returns the runner dependencies.
func (pe *pipelineEnv) Deps() pipeline.Deps {
	return pipeline.Deps{Cache: pe.Cache, Topo: pe.Topo, Metrics: pe.Metrics}
}

// initEnv opens the configured cache. Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	m, err := metrics.New(nil)
	if err != nil {
		return nil, err
	}
	c, err := cache.Open(ctx, cfg, m)
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	return &pipelineEnv{
		Cache:   c,
		Metrics: m,
		Topo:    topo.NewSource(cfg.Paths.DataDir, cfg.CRS),
	}, nil
}

func lookupRegion(name string) (config.Region, error) {
	return cfg.Regions.Lookup(name)
}

// newRunner resolves the region and builds a runner for date.
func newRunner(env *pipelineEnv, area, date string) (*pipeline.Runner, error) {
	region, err := lookupRegion(area)
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg, env.Deps(), region, date)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create %s", dir)
	}
	return nil
}
