package topo

import (
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// ShapeToMultiPolygon converts a shapefile polygon to a MultiPolygon.
// Rings sharing the orientation of the first ring are shells; the others are
// holes assigned to the shell containing them. Returns nil for unsupported or
// empty shapes.
func ShapeToMultiPolygon(shape shp.Shape, srid int) *geom.MultiPolygon {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var (
		shells   []*geom.Polygon
		holes    []*geom.LinearRing
		shellCCW bool
	)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("topo: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ccw := xy.IsRingCounterClockwise(geom.XY, flat)
		if len(shells) == 0 {
			shellCCW = ccw
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)
		if ccw == shellCCW {
			poly := geom.NewPolygon(geom.XY)
			if err := poly.Push(ring); err != nil {
				zap.L().Debug("topo: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
				continue
			}
			shells = append(shells, poly)
			continue
		}
		holes = append(holes, ring)
	}
	if len(shells) == 0 {
		return nil
	}

	for _, h := range holes {
		owner := shells[len(shells)-1]
		first := h.Coord(0)
		for _, s := range shells {
			if xy.IsPointInRing(geom.XY, first, s.LinearRing(0).FlatCoords()) {
				owner = s
				break
			}
		}
		if err := owner.Push(h); err != nil {
			zap.L().Debug("topo: skipping malformed hole", zap.Error(err))
		}
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	for _, s := range shells {
		if err := mp.Push(s); err != nil {
			zap.L().Debug("topo: skipping malformed polygon part", zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// MultiPolygonToShape converts mp to a shapefile polygon with clockwise
// shells and counter-clockwise holes.
func MultiPolygonToShape(mp *geom.MultiPolygon) *shp.Polygon {
	var parts [][]shp.Point
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			flat := poly.LinearRing(j).FlatCoords()
			wantCCW := j > 0
			parts = append(parts, ringPoints(flat, mp.Stride(), xy.IsRingCounterClockwise(mp.Layout(), flat) != wantCCW))
		}
	}
	return (*shp.Polygon)(shp.NewPolyLine(parts))
}

func ringPoints(flat []float64, stride int, reverse bool) []shp.Point {
	n := len(flat) / stride
	pts := make([]shp.Point, n)
	for k := 0; k < n; k++ {
		idx := k
		if reverse {
			idx = n - 1 - k
		}
		pts[k] = shp.Point{X: flat[idx*stride], Y: flat[idx*stride+1]}
	}
	return pts
}
