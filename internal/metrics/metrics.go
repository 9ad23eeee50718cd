// Package metrics holds the Prometheus collectors of the pipeline: stage
// durations, cache hit/miss counts and matched building totals.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration    *prometheus.HistogramVec
	stageErrors      *prometheus.CounterVec
	cacheOps         *prometheus.CounterVec
	matchedBuildings *prometheus.GaugeVec
}

// New creates the collectors and registers them on registry. A nil registry
// gets a fresh one.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sprawl_stage_duration_seconds",
				Help:    "Time taken by a pipeline stage, cache lookups included",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 18), // 1ms to ~2min
			},
			[]string{"stage"},
		),
		stageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sprawl_stage_errors_total",
				Help: "Total number of failed pipeline stages",
			},
			[]string{"stage"},
		),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sprawl_cache_operations_total",
				Help: "Artifact cache lookups by stage and result",
			},
			[]string{"stage", "result"}, // result: hit, miss, memo
		),
		matchedBuildings: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sprawl_matched_buildings",
				Help: "Warehouse buildings in the last matched layer",
			},
			[]string{"area", "year", "radius"},
		),
	}
	for _, c := range []prometheus.Collector{m.stageDuration, m.stageErrors, m.cacheOps, m.matchedBuildings} {
		if err := registry.Register(c); err != nil {
			return nil, eris.Wrap(err, "metrics: register collector")
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveStage records a stage duration and counts failures.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

// CacheHit counts an artifact served from the backend.
func (m *Metrics) CacheHit(stage string) { m.cacheOp(stage, "hit") }

// CacheMiss counts an artifact that had to be computed.
func (m *Metrics) CacheMiss(stage string) { m.cacheOp(stage, "miss") }

// CacheMemo counts an artifact served from the in-process memo.
func (m *Metrics) CacheMemo(stage string) { m.cacheOp(stage, "memo") }

func (m *Metrics) cacheOp(stage, result string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(stage, result).Inc()
}

// SetMatched records the size of a matched building layer.
func (m *Metrics) SetMatched(area, year, radius string, n int) {
	if m == nil {
		return
	}
	m.matchedBuildings.WithLabelValues(area, year, radius).Set(float64(n))
}
