package topo

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/model"
)

// ErrLayerNotFound is returned when a BDTOPO layer is absent for (area, year).
var ErrLayerNotFound = eris.New("topo: layer not found")

// Source locates the processed BDTOPO layers under
// <root>/processed/<area>/<year>/BDTOPO/.
type Source struct {
	root string
	srid int
}

// NewSource returns a Source rooted at the data directory.
func NewSource(dataDir string, srid int) *Source {
	return &Source{root: dataDir, srid: srid}
}

// LayerPath returns the expected shapefile path of a layer.
func (s *Source) LayerPath(area string, year int, layer string) string {
	return filepath.Join(s.root, "processed", area, strconv.Itoa(year), "BDTOPO", layer+".shp")
}

func (s *Source) open(ctx context.Context, area string, year int, layer string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "topo: context cancelled")
	}
	path := s.LayerPath(area, year, layer)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrLayerNotFound, "topo: %s for %s/%d", layer, area, year)
		}
		return nil, eris.Wrapf(err, "topo: stat %s", path)
	}
	return ReadPolygons(path, s.srid)
}

// Communes reads the administrative polygons of (area, year).
func (s *Source) Communes(ctx context.Context, area string, year int) ([]model.Commune, error) {
	recs, err := s.open(ctx, area, year, communesLayerName)
	if err != nil {
		return nil, err
	}
	out := make([]model.Commune, 0, len(recs))
	for i, r := range recs {
		id := firstAttr(r.Attrs, "ID", "INSEE_COM", "CODE_INSEE")
		if id == "" {
			id = strconv.Itoa(i)
		}
		pop, _ := strconv.ParseFloat(firstAttr(r.Attrs, "POPULATION", "POPUL"), 64)
		out = append(out, model.Commune{
			ID:         id,
			Name:       firstAttr(r.Attrs, "NOM", "NOM_COM"),
			Population: int64(pop),
			Geometry:   r.Geometry,
		})
	}
	return out, nil
}

// Buildings reads the building layer of (area, year) for the given
// nomenclature and keeps the industrial footprints in input order.
func (s *Source) Buildings(ctx context.Context, area string, year int, nom Nomenclature) ([]model.Building, error) {
	recs, err := s.open(ctx, area, year, nom.LayerName())
	if err != nil {
		return nil, err
	}
	out := make([]model.Building, 0, len(recs))
	for i, r := range recs {
		id := r.Attrs["ID"]
		generated := id == ""
		if generated {
			id = nom.LayerName() + strconv.Itoa(i)
		}
		attrs := make(map[string]string, len(r.Attrs))
		for k, v := range r.Attrs {
			if k != "ID" {
				attrs[k] = v
			}
		}
		b := model.Building{ID: id, Attrs: attrs, Geometry: r.Geometry, GeneratedID: generated}
		if nom.Keep(b) {
			out = append(out, b)
		}
	}
	zap.L().Debug("topo: buildings loaded",
		zap.String("area", area),
		zap.Int("year", year),
		zap.String("nomenclature", nom.Name()),
		zap.Int("read", len(recs)),
		zap.Int("kept", len(out)),
	)
	return out, nil
}
