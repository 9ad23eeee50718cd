package model

import (
	"github.com/twpayne/go-geom"
)

// GeoRecord is a geocoded establishment position.
type GeoRecord struct {
	SIRET string
	X     float64
	Y     float64
	EPSG  int
}

// Point returns the record position as a point in the given SRID.
func (g GeoRecord) Point(srid int) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{g.X, g.Y}).SetSRID(srid)
}

// Candidate is a registry warehouse joined with its geocoded position.
type Candidate struct {
	RegistryRecord
	X    float64
	Y    float64
	EPSG int
}

// Coord returns the candidate position.
func (c Candidate) Coord() geom.Coord {
	return geom.Coord{c.X, c.Y}
}

// Building is a footprint from the topographic building layer.
type Building struct {
	ID       string
	Attrs    map[string]string
	Geometry *geom.MultiPolygon
	// GeneratedID is set when the source layer had no ID field and ID was
	// derived from the record position.
	GeneratedID bool
}

// Attr returns the named attribute or "" when absent.
func (b Building) Attr(name string) string {
	if b.Attrs == nil {
		return ""
	}
	return b.Attrs[name]
}

// Commune is an administrative polygon with its population.
type Commune struct {
	ID         string
	Name       string
	Population int64
	Geometry   *geom.MultiPolygon
}

// Zone is the dissolved set of communes intersecting a study buffer.
// Communes do not overlap, so the member polygons are kept side by side
// in Geometry and the zone area is the sum of member areas.
type Zone struct {
	Area       string
	Year       int
	Radius     int
	Geometry   *geom.MultiPolygon
	CommuneIDs []string
	Population int64
}

// Connector is the straight segment from a candidate to its nearest building.
type Connector struct {
	ID            int
	Line          *geom.LineString
	BuildingIndex int
}

// Length returns the connector length in CRS units.
func (c Connector) Length() float64 {
	return c.Line.Length()
}
