// Package matching links warehouse candidates to industrial building
// footprints: nearest building per candidate, connector lines, distance and
// area thresholds, then de-duplication.
package matching

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brustt/logistics-sprawl/internal/model"
	"github.com/brustt/logistics-sprawl/internal/spatial"
	"github.com/brustt/logistics-sprawl/internal/topo"
)

// ErrNoBuildingLayer is returned when (area, year) has no building layer.
var ErrNoBuildingLayer = eris.New("matching: no building layer")

// Defaults from the reference study.
const (
	DefaultDistanceThreshold = 50.0
	DefaultMinArea           = 1000.0
)

// Options tunes Match. A non-positive DistanceThreshold or a negative
// MinArea takes the default.
type Options struct {
	// DistanceThreshold is exclusive: a connector of exactly this length is dropped.
	DistanceThreshold float64
	// MinArea is exclusive: a footprint of exactly this area is dropped.
	MinArea float64
	// Workers > 1 spreads the nearest search over goroutines.
	Workers int
}

func (o Options) withDefaults() Options {
	if o.DistanceThreshold <= 0 {
		o.DistanceThreshold = DefaultDistanceThreshold
	}
	if o.MinArea < 0 {
		o.MinArea = DefaultMinArea
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	return o
}

// Result is the outcome of one matching run.
type Result struct {
	// Buildings are the matched footprints in building-layer order.
	Buildings []model.Building
	// Connectors holds the retained connectors, by candidate order.
	Connectors []model.Connector
	// Candidates is the number of candidates considered.
	Candidates int
}

// LoadBuildings reads the building layer of (area, year) with the
// nomenclature variant of that year.
func LoadBuildings(ctx context.Context, src *topo.Source, area string, year int, nom topo.Nomenclature) ([]model.Building, error) {
	bs, err := src.Buildings(ctx, area, year, nom)
	if eris.Is(err, topo.ErrLayerNotFound) {
		return nil, eris.Wrapf(ErrNoBuildingLayer, "matching: %s/%d (%s)", area, year, nom.LayerName())
	}
	if err != nil {
		return nil, eris.Wrap(err, "matching: load buildings")
	}
	return bs, nil
}

type nearest struct {
	building int
	dist     float64
	point    geom.Coord
}

// Match runs the six matching steps. The nearest search compares every
// candidate with every building, O(candidates × buildings); it is the
// dominant cost of the pipeline. Bounding-box distances skip buildings that
// cannot beat the current best without changing which building wins.
func Match(ctx context.Context, cands []model.Candidate, buildings []model.Building, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "matching"))

	// 1. Nearest building per candidate, ties to the first in input order.
	near, err := nearestAll(ctx, cands, buildings, opts.Workers)
	if err != nil {
		return nil, err
	}

	// 2-3. Connectors, kept when strictly shorter than the threshold.
	var connectors []model.Connector
	for i, n := range near {
		if n.building < 0 {
			continue
		}
		c := cands[i].Coord()
		line := geom.NewLineStringFlat(geom.XY, []float64{c[0], c[1], n.point[0], n.point[1]})
		conn := model.Connector{ID: i, Line: line, BuildingIndex: n.building}
		if conn.Length() < opts.DistanceThreshold {
			connectors = append(connectors, conn)
		}
	}

	// 4. Buildings touched by a retained connector or containing a candidate.
	matched := intersecting(buildings, cands, connectors)

	// 5-6. Area threshold, then exact duplicates removed keeping the first.
	seen := make(map[string]bool)
	var out []model.Building
	for i, b := range buildings {
		if !matched[i] || spatial.Area(b.Geometry) <= opts.MinArea {
			continue
		}
		fp := fingerprint(b)
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, b)
	}

	log.Info("matching: done",
		zap.Int("candidates", len(cands)),
		zap.Int("buildings", len(buildings)),
		zap.Int("connectors", len(connectors)),
		zap.Int("matched", len(out)),
	)
	return &Result{Buildings: out, Connectors: connectors, Candidates: len(cands)}, nil
}

func nearestAll(ctx context.Context, cands []model.Candidate, buildings []model.Building, workers int) ([]nearest, error) {
	out := make([]nearest, len(cands))
	if workers <= 1 {
		for i := range cands {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, eris.Wrap(err, "matching: nearest search")
				}
			}
			out[i] = nearestOne(cands[i].Coord(), buildings)
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range cands {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = nearestOne(cands[i].Coord(), buildings)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "matching: nearest search")
	}
	return out, nil
}

func nearestOne(c geom.Coord, buildings []model.Building) nearest {
	best := nearest{building: -1, dist: math.Inf(1)}
	for j, b := range buildings {
		if b.Geometry == nil || b.Geometry.Empty() {
			continue
		}
		if boxDistance(b.Geometry.Bounds(), c) >= best.dist {
			continue
		}
		d, q := spatial.NearestPoint(b.Geometry, c)
		if d < best.dist {
			best = nearest{building: j, dist: d, point: q}
		}
	}
	return best
}

// boxDistance is a lower bound of the distance from c to anything in b.
func boxDistance(b *geom.Bounds, c geom.Coord) float64 {
	dx := math.Max(math.Max(b.Min(0)-c[0], 0), c[0]-b.Max(0))
	dy := math.Max(math.Max(b.Min(1)-c[1], 0), c[1]-b.Max(1))
	return math.Hypot(dx, dy)
}

func intersecting(buildings []model.Building, cands []model.Candidate, connectors []model.Connector) []bool {
	matched := make([]bool, len(buildings))
	bounds := make([]*geom.Bounds, len(buildings))
	for i, b := range buildings {
		if b.Geometry != nil {
			bounds[i] = b.Geometry.Bounds()
		}
	}
	ix := spatial.NewIndex(bounds)

	for _, conn := range connectors {
		// The connector ends on its own building.
		matched[conn.BuildingIndex] = true
		for _, i := range ix.Search(conn.Line.Bounds()) {
			if !matched[i] && spatial.LineIntersects(buildings[i].Geometry, conn.Line) {
				matched[i] = true
			}
		}
	}
	for _, c := range cands {
		pt := c.Coord()
		for _, i := range ix.SearchPoint(pt) {
			if !matched[i] && spatial.ContainsPoint(buildings[i].Geometry, pt) {
				matched[i] = true
			}
		}
	}
	return matched
}

// fingerprint identifies a building record by ID, attributes and geometry.
// A generated ID is left out so positional IDs do not separate duplicates.
func fingerprint(b model.Building) string {
	var sb strings.Builder
	if !b.GeneratedID {
		sb.WriteString(b.ID)
	}
	keys := make([]string, 0, len(b.Attrs))
	for k := range b.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte(0)
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(b.Attrs[k])
	}
	if b.Geometry != nil {
		for _, f := range b.Geometry.FlatCoords() {
			sb.WriteByte(0)
			sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
	}
	return sb.String()
}
