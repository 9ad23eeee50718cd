package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy/location"
)

// Locator answers repeated point-in-polygon queries against one
// MultiPolygon, pruning its member polygons through an R-tree.
type Locator struct {
	polys []*geom.Polygon
	index *Index
}

// NewLocator indexes the polygons of mp.
func NewLocator(mp *geom.MultiPolygon) *Locator {
	if mp == nil {
		return &Locator{index: NewIndex(nil)}
	}
	polys := make([]*geom.Polygon, mp.NumPolygons())
	bounds := make([]*geom.Bounds, len(polys))
	for i := range polys {
		polys[i] = mp.Polygon(i)
		bounds[i] = polys[i].Bounds()
	}
	return &Locator{polys: polys, index: NewIndex(bounds)}
}

// Within reports whether c lies strictly inside the union of the polygons.
// Member polygons are not merged: a point on a member ring is inside only
// when the members cover every direction around it, as on a shared edge.
func (l *Locator) Within(c geom.Coord) bool {
	onRing := false
	for _, i := range l.index.SearchPoint(c) {
		switch locateInPolygon(l.polys[i], c) {
		case location.Interior:
			return true
		case location.Boundary:
			onRing = true
		}
	}
	return onRing && l.surrounded(c)
}

// surroundEps is the radius of the probe circle around a ring point.
const surroundEps = 1e-6

func (l *Locator) surrounded(c geom.Coord) bool {
	for k := 0; k < 8; k++ {
		a := float64(k) * math.Pi / 4
		if !l.covers(geom.Coord{c[0] + surroundEps*math.Cos(a), c[1] + surroundEps*math.Sin(a)}) {
			return false
		}
	}
	return true
}

func (l *Locator) covers(c geom.Coord) bool {
	for _, i := range l.index.SearchPoint(c) {
		if polygonContains(l.polys[i], c) {
			return true
		}
	}
	return false
}
