// Package zoning derives the study zone around a metro center and keeps the
// geocoded establishments that fall inside it.
package zoning

import (
	"context"
	"io"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/fetcher"
	"github.com/brustt/logistics-sprawl/internal/model"
	"github.com/brustt/logistics-sprawl/internal/spatial"
)

// ErrEmptyZone is returned when no commune intersects the buffer.
var ErrEmptyZone = eris.New("zoning: no commune intersects the buffer")

// ErrMissingColumn is returned when the geocoded source lacks a column.
var ErrMissingColumn = fetcher.ErrMissingColumn

// Geocoded source columns.
const (
	ColSIRET = "siret"
	ColX     = "x"
	ColY     = "y"
	ColEPSG  = "epsg"
)

// Spec describes one zone: the buffer around Center of Radius metres.
type Spec struct {
	Area     string
	Year     int
	Center   geom.Coord
	Radius   int
	Segments int
	SRID     int
}

// Members returns the communes whose polygon intersects the buffer of s,
// in input order. Bounding boxes are pruned through an R-tree before the
// exact polygon test.
func Members(communes []model.Commune, s Spec) []model.Commune {
	buffer := spatial.Multi(spatial.Buffer(s.Center, float64(s.Radius), s.Segments))
	bounds := make([]*geom.Bounds, len(communes))
	for i, c := range communes {
		if c.Geometry != nil {
			bounds[i] = c.Geometry.Bounds()
		}
	}
	ix := spatial.NewIndex(bounds)

	var out []model.Commune
	for _, i := range ix.Search(buffer.Bounds()) {
		if spatial.Intersects(communes[i].Geometry, buffer) {
			out = append(out, communes[i])
		}
	}
	return out
}

// Build dissolves the member communes of s into a zone.
func Build(communes []model.Commune, s Spec) (*model.Zone, error) {
	members := Members(communes, s)
	if len(members) == 0 {
		return nil, eris.Wrapf(ErrEmptyZone, "zoning: %s/%d r=%d", s.Area, s.Year, s.Radius)
	}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(s.SRID)
	z := &model.Zone{Area: s.Area, Year: s.Year, Radius: s.Radius}
	for _, c := range members {
		for i := 0; i < c.Geometry.NumPolygons(); i++ {
			if err := mp.Push(c.Geometry.Polygon(i)); err != nil {
				return nil, eris.Wrapf(err, "zoning: add commune %s", c.ID)
			}
		}
		z.CommuneIDs = append(z.CommuneIDs, c.ID)
		z.Population += c.Population
	}
	z.Geometry = mp
	zap.L().Debug("zoning: zone built",
		zap.String("area", s.Area),
		zap.Int("year", s.Year),
		zap.Int("radius", s.Radius),
		zap.Int("communes", len(members)),
		zap.Float64("area_km2", spatial.Area(mp)/1e6),
	)
	return z, nil
}

// FilterGeo streams the semicolon-separated geocoded registry and keeps the
// rows tagged with srid whose point lies in zone. Rows with unparseable
// coordinates are skipped.
func FilterGeo(ctx context.Context, r io.Reader, zone *model.Zone, srid int) ([]model.GeoRecord, error) {
	loc := spatial.NewLocator(zone.Geometry)
	var (
		out     []model.GeoRecord
		read    int
		badRows int
	)
	err := fetcher.ReadTable(ctx, r, fetcher.CSVOptions{Delimiter: ';', LazyQuotes: true},
		[]string{ColSIRET, ColX, ColY, ColEPSG},
		func(h fetcher.Header, row []string) error {
			read++
			epsg, err := strconv.ParseFloat(h.Get(row, ColEPSG), 64)
			if err != nil || int(epsg) != srid {
				return nil
			}
			x, errX := strconv.ParseFloat(h.Get(row, ColX), 64)
			y, errY := strconv.ParseFloat(h.Get(row, ColY), 64)
			if errX != nil || errY != nil || math.IsNaN(x) || math.IsNaN(y) {
				badRows++
				return nil
			}
			if loc.Within(geom.Coord{x, y}) {
				out = append(out, model.GeoRecord{SIRET: h.Get(row, ColSIRET), X: x, Y: y, EPSG: srid})
			}
			return nil
		})
	if err != nil {
		return nil, eris.Wrap(err, "zoning: filter geo registry")
	}
	zap.L().Info("zoning: geo registry filtered",
		zap.String("area", zone.Area),
		zap.Int("year", zone.Year),
		zap.Int("radius", zone.Radius),
		zap.Int("read", read),
		zap.Int("bad_rows", badRows),
		zap.Int("kept", len(out)),
	)
	return out, nil
}

// FilterGeoFile opens path (CSV or ZIP) and filters it.
func FilterGeoFile(ctx context.Context, path string, zone *model.Zone, srid int) ([]model.GeoRecord, error) {
	rc, err := fetcher.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "zoning: open geo registry")
	}
	defer rc.Close() //nolint:errcheck
	return FilterGeo(ctx, rc, zone, srid)
}

// Refilter keeps the already filtered records that lie in zone. Zones of a
// smaller radius nest inside larger ones, so refiltering the records of the
// largest zone equals filtering the raw source.
func Refilter(recs []model.GeoRecord, zone *model.Zone) []model.GeoRecord {
	loc := spatial.NewLocator(zone.Geometry)
	out := make([]model.GeoRecord, 0, len(recs))
	for _, r := range recs {
		if loc.Within(geom.Coord{r.X, r.Y}) {
			out = append(out, r)
		}
	}
	return out
}
