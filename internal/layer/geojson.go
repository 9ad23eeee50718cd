// Package layer encodes pipeline layers as GeoJSON feature collections
// carrying an explicit CRS member.
package layer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

const crsURNPrefix = "urn:ogc:def:crs:EPSG::"

// Layer is a named feature collection in a single projected CRS.
type Layer struct {
	Name     string
	SRID     int
	Features []*geojson.Feature
}

// Len returns the number of features.
func (l *Layer) Len() int { return len(l.Features) }

// GeometryType returns the GeoJSON type name shared by all features,
// or "" for an empty layer.
func (l *Layer) GeometryType() string {
	if len(l.Features) == 0 {
		return ""
	}
	switch l.Features[0].Geometry.(type) {
	case *geom.Point:
		return "Point"
	case *geom.LineString:
		return "LineString"
	case *geom.Polygon:
		return "Polygon"
	case *geom.MultiPolygon:
		return "MultiPolygon"
	default:
		return fmt.Sprintf("%T", l.Features[0].Geometry)
	}
}

type document struct {
	Type     string             `json:"type"`
	Name     string             `json:"name,omitempty"`
	CRS      *geojson.CRS       `json:"crs,omitempty"`
	Features []*geojson.Feature `json:"features"`
}

// Encode serializes l. Output is deterministic for identical input.
func Encode(l *Layer) ([]byte, error) {
	doc := document{
		Type:     "FeatureCollection",
		Name:     l.Name,
		Features: l.Features,
	}
	if doc.Features == nil {
		doc.Features = []*geojson.Feature{}
	}
	if l.SRID != 0 {
		doc.CRS = &geojson.CRS{
			Type:       "name",
			Properties: map[string]interface{}{"name": crsURNPrefix + strconv.Itoa(l.SRID)},
		}
	}
	data, err := json.Marshal(&doc)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: encode %s", l.Name)
	}
	return data, nil
}

// Decode parses a feature collection written by Encode. Feature geometries
// inherit the collection SRID.
func Decode(data []byte) (*Layer, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "layer: decode")
	}
	if doc.Type != "FeatureCollection" {
		return nil, eris.Errorf("layer: unexpected type %q", doc.Type)
	}
	l := &Layer{Name: doc.Name, Features: doc.Features}
	if doc.CRS != nil {
		srid, err := parseCRS(doc.CRS)
		if err != nil {
			return nil, err
		}
		l.SRID = srid
	}
	for _, f := range l.Features {
		f.Geometry = withSRID(f.Geometry, l.SRID)
	}
	return l, nil
}

func parseCRS(crs *geojson.CRS) (int, error) {
	name, _ := crs.Properties["name"].(string)
	idx := strings.LastIndex(name, ":")
	if idx < 0 {
		return 0, eris.Errorf("layer: unsupported crs %q", name)
	}
	srid, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0, eris.Wrapf(err, "layer: parse crs %q", name)
	}
	return srid, nil
}

func withSRID(g geom.T, srid int) geom.T {
	switch t := g.(type) {
	case *geom.Point:
		return t.SetSRID(srid)
	case *geom.LineString:
		return t.SetSRID(srid)
	case *geom.Polygon:
		return t.SetSRID(srid)
	case *geom.MultiPolygon:
		return t.SetSRID(srid)
	default:
		return g
	}
}

// str reads a property as a string. JSON numbers are formatted without exponent.
func str(props map[string]interface{}, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// num reads a numeric property. Numeric strings are accepted.
func num(props map[string]interface{}, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
