package topo

import (
	"os"
	"sort"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/brustt/logistics-sprawl/internal/model"
)

// maxFieldLen is the largest DBF character field.
const maxFieldLen = 254

// WritePolygons writes recs to a polygon shapefile (.shp/.shx/.dbf). Every
// attribute key becomes a character field; keys are written in sorted order.
func WritePolygons(shpPath string, recs []Record) error {
	sizes := map[string]int{}
	for _, r := range recs {
		for k, v := range r.Attrs {
			if len(v) > sizes[k] {
				sizes[k] = len(v)
			}
			if sizes[k] == 0 {
				sizes[k] = 1
			}
		}
	}
	names := make([]string, 0, len(sizes))
	for k := range sizes {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]shp.Field, len(names))
	for i, name := range names {
		fields[i] = shp.StringField(name, uint8(min(sizes[name], maxFieldLen)))
	}

	w, err := shp.Create(shpPath, shp.POLYGON)
	if err != nil {
		return eris.Wrapf(err, "topo: create shapefile %s", shpPath)
	}
	err = writeRecords(w, fields, names, recs)
	w.Close()
	if err != nil {
		return err
	}
	return fixDBFName(shpPath)
}

func writeRecords(w *shp.Writer, fields []shp.Field, names []string, recs []Record) error {
	if err := w.SetFields(fields); err != nil {
		return eris.Wrap(err, "topo: set fields")
	}
	for _, r := range recs {
		row := int(w.Write(MultiPolygonToShape(r.Geometry)))
		for i, name := range names {
			val := r.Attrs[name]
			if len(val) > maxFieldLen {
				val = val[:maxFieldLen]
			}
			if err := w.WriteAttribute(row, i, val); err != nil {
				return eris.Wrapf(err, "topo: write attribute %s", name)
			}
		}
	}
	return nil
}

// fixDBFName moves the attribute table go-shp writes as "<base>dbf" to
// "<base>.dbf", where shp.Open looks for it.
func fixDBFName(shpPath string) error {
	base := strings.TrimSuffix(shpPath, ".shp")
	stray := base + "dbf"
	if _, err := os.Stat(stray); err != nil {
		return nil
	}
	if err := os.Rename(stray, base+".dbf"); err != nil {
		return eris.Wrapf(err, "topo: rename attribute table %s", stray)
	}
	return nil
}

// WriteBuildings exports building footprints with their ID and attributes.
func WriteBuildings(shpPath string, bs []model.Building) error {
	recs := make([]Record, 0, len(bs))
	for _, b := range bs {
		attrs := make(map[string]string, len(b.Attrs)+1)
		for k, v := range b.Attrs {
			attrs[k] = v
		}
		attrs["ID"] = b.ID
		recs = append(recs, Record{Geometry: b.Geometry, Attrs: attrs})
	}
	return WritePolygons(shpPath, recs)
}
