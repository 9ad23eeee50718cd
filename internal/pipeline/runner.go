// Package pipeline chains the registry filter, zoner, joiner and building
// matcher for one region and date, materializing every stage through the
// artifact cache.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/cache"
	"github.com/brustt/logistics-sprawl/internal/config"
	"github.com/brustt/logistics-sprawl/internal/join"
	"github.com/brustt/logistics-sprawl/internal/matching"
	"github.com/brustt/logistics-sprawl/internal/metrics"
	"github.com/brustt/logistics-sprawl/internal/model"
	"github.com/brustt/logistics-sprawl/internal/registry"
	"github.com/brustt/logistics-sprawl/internal/topo"
	"github.com/brustt/logistics-sprawl/internal/zoning"
)

// Raw input files under <data_dir>/raw/SIREN.
const (
	RegistryFile = "StockEtablissementHistorique_utf8"
	GeoFile      = "GeolocalisationEtablissement_Sirene_pour_etudes_statistiques_utf8"
)

// DateLayout is the layout of run dates.
const DateLayout = "2006-01-02"

// StageError reports the stage and coordinates of a failed run.
type StageError struct {
	Stage  cache.Stage
	Area   string
	Year   int
	Radius int
	Err    error
}

func (e *StageError) Error() string {
	if e.Stage == cache.StageRegistry {
		return fmt.Sprintf("pipeline: stage %s (%d): %v", e.Stage, e.Year, e.Err)
	}
	return fmt.Sprintf("pipeline: stage %s (%s/%d r=%d): %v", e.Stage, e.Area, e.Year, e.Radius, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Deps are the shared services of a Runner.
type Deps struct {
	Cache   *cache.Cache
	Topo    *topo.Source
	Metrics *metrics.Metrics
}

// Runner executes the stages for one region at one date.
type Runner struct {
	cfg     *config.Config
	region  config.Region
	area    string
	date    string
	ref     time.Time
	year    int
	cache   *cache.Cache
	topo    *topo.Source
	metrics *metrics.Metrics
	runID   string
	log     *zap.Logger

	records  []model.RegistryRecord
	communes []model.Commune
}

// New builds a Runner for region at date (YYYY-MM-DD). cfg is read only.
func New(cfg *config.Config, deps Deps, region config.Region, date string) (*Runner, error) {
	ref, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse date %q", date)
	}
	if deps.Cache == nil {
		return nil, eris.New("pipeline: cache is required")
	}
	src := deps.Topo
	if src == nil {
		src = topo.NewSource(cfg.Paths.DataDir, cfg.CRS)
	}
	runID := uuid.New().String()
	area := region.Slug()
	return &Runner{
		cfg:     cfg,
		region:  region,
		area:    area,
		date:    date,
		ref:     ref,
		year:    ref.Year(),
		cache:   deps.Cache,
		topo:    src,
		metrics: deps.Metrics,
		runID:   runID,
		log: zap.L().With(
			zap.String("component", "pipeline"),
			zap.String("run_id", runID),
			zap.String("area", area),
			zap.String("date", date),
		),
	}, nil
}

// RunID returns the identifier attached to the runner's logs.
func (r *Runner) RunID() string { return r.runID }

// Area returns the slug of the region.
func (r *Runner) Area() string { return r.area }

// Year returns the year of the run date.
func (r *Runner) Year() int { return r.year }

// Run executes zoning, join and matching for radius and returns the
// matched buildings. The registry filter runs once per date.
func (r *Runner) Run(ctx context.Context, radius int) ([]model.Building, error) {
	start := time.Now()
	r.log.Info("pipeline: run starting", zap.Int("radius", radius))
	bs, err := r.Matched(ctx, radius)
	if err != nil {
		return nil, err
	}
	r.metrics.SetMatched(r.area, fmt.Sprint(r.year), fmt.Sprint(radius), len(bs))
	r.log.Info("pipeline: run complete",
		zap.Int("radius", radius),
		zap.Int("matched", len(bs)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return bs, nil
}

// RunAll runs every configured radius in order.
func (r *Runner) RunAll(ctx context.Context) (map[int][]model.Building, error) {
	out := make(map[int][]model.Building, len(r.cfg.Pipeline.Radii))
	for _, radius := range r.cfg.Pipeline.Radii {
		bs, err := r.Run(ctx, radius)
		if err != nil {
			return nil, err
		}
		out[radius] = bs
	}
	return out, nil
}

// Registry returns the establishments active at the run date.
func (r *Runner) Registry(ctx context.Context) ([]model.RegistryRecord, error) {
	if r.records != nil {
		return r.records, nil
	}
	var recs []model.RegistryRecord
	err := r.trackStage(ctx, cache.StageRegistry, 0, func(ctx context.Context) error {
		var err error
		recs, err = materialize(ctx, r.cache, cache.RegistryKey(r.date),
			func(ctx context.Context) ([]model.RegistryRecord, error) {
				path, err := r.rawPath(RegistryFile)
				if err != nil {
					return nil, err
				}
				return registry.FilterFile(ctx, path, r.ref)
			},
			registry.Encode, registry.Decode)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.records = recs
	return recs, nil
}

// Communes returns the communes of the region intersecting the buffer of
// radius at the run year.
func (r *Runner) Communes(ctx context.Context, radius int) ([]model.Commune, error) {
	all, err := r.allCommunes(ctx)
	if err != nil {
		return nil, &StageError{Stage: cache.StageZone, Area: r.area, Year: r.year, Radius: radius, Err: err}
	}
	return zoning.Members(all, r.zoneSpec(radius)), nil
}

// Zone returns the study zone of radius.
func (r *Runner) Zone(ctx context.Context, radius int) (*model.Zone, error) {
	if r.widened(radius) {
		r.log.Warn("pipeline: reusing the zone of the largest radius, results are oversized",
			zap.Int("radius", radius),
			zap.Int("max_radius", r.maxRadius()),
		)
		return r.zone(ctx, r.maxRadius(), radius)
	}
	return r.zone(ctx, radius, radius)
}

// zone materializes the zone built at buildRadius under the key of radius.
func (r *Runner) zone(ctx context.Context, buildRadius, radius int) (*model.Zone, error) {
	var z *model.Zone
	err := r.trackStage(ctx, cache.StageZone, radius, func(ctx context.Context) error {
		var err error
		z, err = materialize(ctx, r.cache, r.layerKey(cache.StageZone, radius),
			func(ctx context.Context) (*model.Zone, error) {
				all, err := r.allCommunes(ctx)
				if err != nil {
					return nil, err
				}
				return zoning.Build(all, r.zoneSpec(buildRadius))
			},
			r.encodeZone, decodeZone)
		return err
	})
	return z, err
}

// GeoRegistry returns the geocoded establishments inside the zone of radius.
func (r *Runner) GeoRegistry(ctx context.Context, radius int) ([]model.GeoRecord, error) {
	z, err := r.Zone(ctx, radius)
	if err != nil {
		return nil, err
	}
	var recs []model.GeoRecord
	err = r.trackStage(ctx, cache.StageGeoRegistry, radius, func(ctx context.Context) error {
		var err error
		recs, err = materialize(ctx, r.cache, r.layerKey(cache.StageGeoRegistry, radius),
			func(ctx context.Context) ([]model.GeoRecord, error) {
				if r.cfg.Pipeline.ZoneReuse != config.ZoneReuseNone && radius < r.maxRadius() {
					wide, err := r.GeoRegistry(ctx, r.maxRadius())
					if err != nil {
						return nil, err
					}
					return zoning.Refilter(wide, z), nil
				}
				path, err := r.rawPath(GeoFile)
				if err != nil {
					return nil, err
				}
				return zoning.FilterGeoFile(ctx, path, z, r.cfg.CRS)
			},
			r.encodeGeo, decodeGeo)
		return err
	})
	return recs, err
}

// Candidates joins the active establishments with the geocoded ones of
// radius.
func (r *Runner) Candidates(ctx context.Context, radius int) ([]model.Candidate, error) {
	recs, err := r.Registry(ctx)
	if err != nil {
		return nil, err
	}
	geo, err := r.GeoRegistry(ctx, radius)
	if err != nil {
		return nil, err
	}
	var cands []model.Candidate
	err = r.trackStage(ctx, cache.StageCandidates, radius, func(ctx context.Context) error {
		var err error
		cands, err = materialize(ctx, r.cache, r.layerKey(cache.StageCandidates, radius),
			func(context.Context) ([]model.Candidate, error) {
				return join.Candidates(recs, geo), nil
			},
			r.encodeCandidates, decodeCandidates)
		return err
	})
	return cands, err
}

// Matched returns the warehouse buildings of radius.
func (r *Runner) Matched(ctx context.Context, radius int) ([]model.Building, error) {
	cands, err := r.Candidates(ctx, radius)
	if err != nil {
		return nil, err
	}
	var bs []model.Building
	err = r.trackStage(ctx, cache.StageMatched, radius, func(ctx context.Context) error {
		var err error
		bs, err = materialize(ctx, r.cache, r.layerKey(cache.StageMatched, radius),
			func(ctx context.Context) ([]model.Building, error) {
				nom := topo.ForYear(r.year, r.cfg.Pipeline.ModernYears)
				buildings, err := matching.LoadBuildings(ctx, r.topo, r.area, r.year, nom)
				if err != nil {
					return nil, err
				}
				res, err := matching.Match(ctx, cands, buildings, matching.Options{
					DistanceThreshold: r.cfg.Pipeline.DistanceThreshold,
					MinArea:           r.cfg.Pipeline.MinArea,
					Workers:           r.cfg.Matching.Workers,
				})
				if err != nil {
					return nil, err
				}
				return res.Buildings, nil
			},
			r.encodeBuildings, decodeBuildings)
		return err
	})
	return bs, err
}

// trackStage times fn, records it and wraps its failure in a StageError.
func (r *Runner) trackStage(ctx context.Context, stage cache.Stage, radius int, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	r.metrics.ObserveStage(string(stage), elapsed, err)

	fields := []zap.Field{
		zap.String("stage", string(stage)),
		zap.Int("radius", radius),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return err
		}
		r.log.Error("pipeline: stage failed", append(fields, zap.Error(err))...)
		return &StageError{Stage: stage, Area: r.area, Year: r.year, Radius: radius, Err: err}
	}
	r.log.Debug("pipeline: stage complete", fields...)
	return nil
}

func (r *Runner) allCommunes(ctx context.Context) ([]model.Commune, error) {
	if r.communes != nil {
		return r.communes, nil
	}
	cs, err := r.topo.Communes(ctx, r.area, r.year)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load communes")
	}
	r.communes = cs
	return cs, nil
}

func (r *Runner) zoneSpec(radius int) zoning.Spec {
	return zoning.Spec{
		Area:     r.area,
		Year:     r.year,
		Center:   geom.Coord{r.region.CenterX, r.region.CenterY},
		Radius:   radius,
		Segments: r.cfg.Pipeline.BufferSegments,
		SRID:     r.cfg.CRS,
	}
}

func (r *Runner) maxRadius() int { return r.cfg.Pipeline.MaxRadius() }

// widened reports whether radius uses the zone of the largest radius.
func (r *Runner) widened(radius int) bool {
	return r.cfg.Pipeline.ZoneReuse == config.ZoneReuseMaxZone && radius < r.maxRadius()
}

// layerKey is the artifact key of stage at radius. Layers built on a
// widened zone are stored apart from the exact ones.
func (r *Runner) layerKey(stage cache.Stage, radius int) cache.Key {
	k := cache.LayerKey(stage, r.area, r.year, radius)
	if r.widened(radius) {
		k = k.WithVariant(cache.VariantMaxZone)
	}
	return k
}

// rawPath finds name as .csv, falling back to a single-entry .zip.
func (r *Runner) rawPath(name string) (string, error) {
	dir := filepath.Join(r.cfg.Paths.DataDir, "raw", "SIREN")
	for _, ext := range []string{".csv", ".zip"} {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", eris.Errorf("pipeline: %s not found in %s", name, dir)
}

// materialize resolves key through the cache, encoding a freshly computed
// value and decoding a stored one.
func materialize[T any](
	ctx context.Context,
	c *cache.Cache,
	key cache.Key,
	compute func(context.Context) (T, error),
	encode func(T) ([]byte, error),
	decode func([]byte) (T, error),
) (T, error) {
	var (
		val      T
		computed bool
	)
	data, err := c.Materialize(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		val, computed = v, true
		return encode(v)
	})
	if err != nil {
		return val, err
	}
	if computed {
		return val, nil
	}
	return decode(data)
}
