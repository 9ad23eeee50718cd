// Package spatial provides the planar predicates used by zoning and matching:
// point-in-polygon, nearest boundary point, segment and polygon intersection,
// areas and circular buffers. Coordinates are projected metres (Lambert-93).
package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersector"
	"github.com/twpayne/go-geom/xy/location"
)

// PolygonArea returns the unsigned area of p: outer ring minus holes.
func PolygonArea(p *geom.Polygon) float64 {
	if p == nil || p.NumLinearRings() == 0 {
		return 0
	}
	area := math.Abs(p.LinearRing(0).Area())
	for i := 1; i < p.NumLinearRings(); i++ {
		area -= math.Abs(p.LinearRing(i).Area())
	}
	return area
}

// Area returns the unsigned area of mp, assuming its polygons do not overlap.
func Area(mp *geom.MultiPolygon) float64 {
	if mp == nil {
		return 0
	}
	var total float64
	for i := 0; i < mp.NumPolygons(); i++ {
		total += PolygonArea(mp.Polygon(i))
	}
	return total
}

// Centroid returns the area-weighted centroid of mp.
func Centroid(mp *geom.MultiPolygon) geom.Coord {
	return xy.MultiPolygonCentroid(mp)
}

// ContainsPoint reports whether c lies in mp. Points on a ring count as inside.
func ContainsPoint(mp *geom.MultiPolygon, c geom.Coord) bool {
	if mp == nil || mp.Empty() {
		return false
	}
	if !mp.Bounds().OverlapsPoint(mp.Layout(), c) {
		return false
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		if polygonContains(mp.Polygon(i), c) {
			return true
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, c geom.Coord) bool {
	return locateInPolygon(p, c) != location.Exterior
}

// locateInPolygon places c in the interior, on a ring or outside of p.
func locateInPolygon(p *geom.Polygon, c geom.Coord) location.Type {
	if p.NumLinearRings() == 0 {
		return location.Exterior
	}
	layout := p.Layout()
	shell := xy.LocatePointInRing(layout, c, p.LinearRing(0).FlatCoords())
	if shell == location.Exterior {
		return location.Exterior
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		switch xy.LocatePointInRing(layout, c, p.LinearRing(i).FlatCoords()) {
		case location.Interior:
			return location.Exterior
		case location.Boundary:
			return location.Boundary
		}
	}
	return shell
}

// NearestPoint returns the distance from c to mp and the closest point of mp.
// A point inside mp has distance 0 and is its own closest point.
func NearestPoint(mp *geom.MultiPolygon, c geom.Coord) (float64, geom.Coord) {
	if ContainsPoint(mp, c) {
		return 0, geom.Coord{c[0], c[1]}
	}
	best := math.Inf(1)
	var nearest geom.Coord
	forEachEdge(mp, func(a, b geom.Coord) bool {
		q := closestOnSegment(c, a, b)
		if d := xy.Distance(c, q); d < best {
			best = d
			nearest = q
		}
		return true
	})
	return best, nearest
}

func closestOnSegment(p, a, b geom.Coord) geom.Coord {
	dx, dy := b[0]-a[0], b[1]-a[1]
	len2 := dx*dx + dy*dy
	if len2 == 0 {
		return geom.Coord{a[0], a[1]}
	}
	r := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / len2
	switch {
	case r <= 0:
		return geom.Coord{a[0], a[1]}
	case r >= 1:
		return geom.Coord{b[0], b[1]}
	}
	return geom.Coord{a[0] + r*dx, a[1] + r*dy}
}

// SegmentIntersects reports whether the segment ab touches mp.
func SegmentIntersects(mp *geom.MultiPolygon, a, b geom.Coord) bool {
	if ContainsPoint(mp, a) || ContainsPoint(mp, b) {
		return true
	}
	hit := false
	forEachEdge(mp, func(c, d geom.Coord) bool {
		if segmentsCross(a, b, c, d) {
			hit = true
			return false
		}
		return true
	})
	return hit
}

// LineIntersects reports whether any segment of ls touches mp.
func LineIntersects(mp *geom.MultiPolygon, ls *geom.LineString) bool {
	n := ls.NumCoords()
	if n == 1 {
		return ContainsPoint(mp, ls.Coord(0))
	}
	for i := 0; i+1 < n; i++ {
		if SegmentIntersects(mp, ls.Coord(i), ls.Coord(i+1)) {
			return true
		}
	}
	return false
}

// Intersects reports whether two polygonal geometries share at least one point.
func Intersects(a, b *geom.MultiPolygon) bool {
	if a == nil || b == nil || a.Empty() || b.Empty() {
		return false
	}
	if !a.Bounds().Overlaps(a.Layout(), b.Bounds()) {
		return false
	}
	if ContainsPoint(a, firstCoord(b)) || ContainsPoint(b, firstCoord(a)) {
		return true
	}
	hit := false
	forEachEdge(a, func(p, q geom.Coord) bool {
		forEachEdge(b, func(r, s geom.Coord) bool {
			if segmentsCross(p, q, r, s) {
				hit = true
			}
			return !hit
		})
		return !hit
	})
	return hit
}

func segmentsCross(a, b, c, d geom.Coord) bool {
	res := lineintersector.LineIntersectsLine(lineintersector.RobustLineIntersector{}, a, b, c, d)
	return res.HasIntersection()
}

func firstCoord(mp *geom.MultiPolygon) geom.Coord {
	flat := mp.FlatCoords()
	return geom.Coord{flat[0], flat[1]}
}

// forEachEdge calls fn for every ring edge of mp until fn returns false.
func forEachEdge(mp *geom.MultiPolygon, fn func(a, b geom.Coord) bool) {
	stride := mp.Stride()
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		for j := 0; j < p.NumLinearRings(); j++ {
			flat := p.LinearRing(j).FlatCoords()
			for k := 0; k+2*stride <= len(flat); k += stride {
				a := geom.Coord{flat[k], flat[k+1]}
				b := geom.Coord{flat[k+stride], flat[k+stride+1]}
				if !fn(a, b) {
					return
				}
			}
		}
	}
}

// Buffer approximates the disc of radius r around center with a closed ring
// of 4*quadSegs vertices lying on the circle.
func Buffer(center geom.Coord, r float64, quadSegs int) *geom.Polygon {
	if quadSegs < 1 {
		quadSegs = 16
	}
	n := 4 * quadSegs
	flat := make([]float64, 0, 2*(n+1))
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		flat = append(flat, center[0]+r*math.Cos(theta), center[1]+r*math.Sin(theta))
	}
	flat = append(flat, flat[0], flat[1])
	return geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
}

// Multi wraps a single polygon as a MultiPolygon.
func Multi(p *geom.Polygon) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(p.SRID())
	_ = mp.Push(p)
	return mp
}

// MeanDistance returns the mean distance of pts from their own mean point.
func MeanDistance(pts []geom.Coord) float64 {
	if len(pts) == 0 {
		return 0
	}
	var cx, cy float64
	for _, p := range pts {
		cx += p[0]
		cy += p[1]
	}
	n := float64(len(pts))
	center := geom.Coord{cx / n, cy / n}
	var sum float64
	for _, p := range pts {
		sum += xy.Distance(center, p)
	}
	return sum / n
}
