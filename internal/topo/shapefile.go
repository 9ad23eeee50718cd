// Package topo reads the topographic (BDTOPO) layers: communes with their
// population and building footprints, selected per nomenclature.
package topo

import (
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// Record is one shapefile feature with its attributes keyed by upper-case
// field name.
type Record struct {
	Geometry *geom.MultiPolygon
	Attrs    map[string]string
}

// ReadPolygons reads every polygon feature of a shapefile. Features with a
// missing or non-polygonal shape are skipped and counted in a debug log.
func ReadPolygons(shpPath string, srid int) ([]Record, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "topo: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToUpper(strings.TrimRight(f.String(), "\x00"))
	}

	var (
		out     []Record
		skipped int
	)
	for reader.Next() {
		_, shape := reader.Shape()
		mp := ShapeToMultiPolygon(shape, srid)
		if mp == nil {
			skipped++
			continue
		}

		attrs := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimRight(reader.Attribute(i), "\x00")
			attrs[name] = decodeAttr(strings.TrimSpace(val))
		}
		out = append(out, Record{Geometry: mp, Attrs: attrs})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "topo: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("topo: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

// decodeAttr converts Latin-1 DBF values to UTF-8. Older BDTOPO editions
// are not UTF-8 encoded.
func decodeAttr(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return decoded
}

// firstAttr returns the first non-empty attribute among keys.
func firstAttr(attrs map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := attrs[k]; v != "" {
			return v
		}
	}
	return ""
}
