package layer

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/brustt/logistics-sprawl/internal/model"
)

// Property names shared with the registry CSV header.
const (
	propSIRET        = "siret"
	propActivityCode = "activitePrincipaleEtablissement"
	propScheme       = "nomenclatureActivitePrincipaleEtablissement"
	propDateStart    = "dateDebut"
	propDateEnd      = "dateFin"
	propEPSG         = "epsg"
)

// FromGeoRecords builds a point layer from geocoded records.
func FromGeoRecords(name string, srid int, recs []model.GeoRecord) *Layer {
	feats := make([]*geojson.Feature, 0, len(recs))
	for _, r := range recs {
		feats = append(feats, &geojson.Feature{
			Geometry: r.Point(srid),
			Properties: map[string]interface{}{
				propSIRET: r.SIRET,
				propEPSG:  r.EPSG,
			},
		})
	}
	return &Layer{Name: name, SRID: srid, Features: feats}
}

// ToGeoRecords reads a point layer written by FromGeoRecords.
func ToGeoRecords(l *Layer) ([]model.GeoRecord, error) {
	out := make([]model.GeoRecord, 0, len(l.Features))
	for i, f := range l.Features {
		pt, ok := f.Geometry.(*geom.Point)
		if !ok {
			return nil, eris.Errorf("layer: feature %d of %s is %T, want point", i, l.Name, f.Geometry)
		}
		out = append(out, model.GeoRecord{
			SIRET: str(f.Properties, propSIRET),
			X:     pt.X(),
			Y:     pt.Y(),
			EPSG:  int(num(f.Properties, propEPSG)),
		})
	}
	return out, nil
}

// FromCandidates builds the joined warehouse point layer.
func FromCandidates(name string, srid int, cands []model.Candidate) *Layer {
	feats := make([]*geojson.Feature, 0, len(cands))
	for _, c := range cands {
		feats = append(feats, &geojson.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{c.X, c.Y}).SetSRID(srid),
			Properties: map[string]interface{}{
				propSIRET:        c.SIRET,
				propActivityCode: c.ActivityCode,
				propScheme:       c.Scheme,
				propDateStart:    c.DateStart,
				propDateEnd:      c.DateEnd,
				propEPSG:         c.EPSG,
			},
		})
	}
	return &Layer{Name: name, SRID: srid, Features: feats}
}

// ToCandidates reads a layer written by FromCandidates.
func ToCandidates(l *Layer) ([]model.Candidate, error) {
	out := make([]model.Candidate, 0, len(l.Features))
	for i, f := range l.Features {
		pt, ok := f.Geometry.(*geom.Point)
		if !ok {
			return nil, eris.Errorf("layer: feature %d of %s is %T, want point", i, l.Name, f.Geometry)
		}
		out = append(out, model.Candidate{
			RegistryRecord: model.RegistryRecord{
				SIRET:        str(f.Properties, propSIRET),
				ActivityCode: str(f.Properties, propActivityCode),
				Scheme:       str(f.Properties, propScheme),
				DateStart:    str(f.Properties, propDateStart),
				DateEnd:      str(f.Properties, propDateEnd),
			},
			X:    pt.X(),
			Y:    pt.Y(),
			EPSG: int(num(f.Properties, propEPSG)),
		})
	}
	return out, nil
}

// FromBuildings builds a polygon layer. Attributes become string properties.
func FromBuildings(name string, srid int, bs []model.Building) *Layer {
	feats := make([]*geojson.Feature, 0, len(bs))
	for _, b := range bs {
		props := make(map[string]interface{}, len(b.Attrs))
		for k, v := range b.Attrs {
			props[k] = v
		}
		feats = append(feats, &geojson.Feature{
			ID:         b.ID,
			Geometry:   b.Geometry.SetSRID(srid),
			Properties: props,
		})
	}
	return &Layer{Name: name, SRID: srid, Features: feats}
}

// ToBuildings reads a polygon layer. Polygons are promoted to MultiPolygons.
func ToBuildings(l *Layer) ([]model.Building, error) {
	out := make([]model.Building, 0, len(l.Features))
	for i, f := range l.Features {
		mp, err := asMulti(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "layer: feature %d of %s", i, l.Name)
		}
		attrs := make(map[string]string, len(f.Properties))
		for k := range f.Properties {
			attrs[k] = str(f.Properties, k)
		}
		out = append(out, model.Building{ID: f.ID, Attrs: attrs, Geometry: mp})
	}
	return out, nil
}

// FromZone encodes a study zone as a single dissolved feature.
func FromZone(name string, srid int, z *model.Zone) *Layer {
	ids := make([]interface{}, len(z.CommuneIDs))
	for i, id := range z.CommuneIDs {
		ids[i] = id
	}
	return &Layer{Name: name, SRID: srid, Features: []*geojson.Feature{{
		ID:       z.Area + "_r" + strconv.Itoa(z.Radius),
		Geometry: z.Geometry.SetSRID(srid),
		Properties: map[string]interface{}{
			"area":       z.Area,
			"year":       z.Year,
			"radius":     z.Radius,
			"population": z.Population,
			"communes":   ids,
		},
	}}}
}

// ToZone reads a layer written by FromZone.
func ToZone(l *Layer) (*model.Zone, error) {
	if len(l.Features) != 1 {
		return nil, eris.Errorf("layer: zone %s has %d features, want 1", l.Name, len(l.Features))
	}
	f := l.Features[0]
	mp, err := asMulti(f.Geometry)
	if err != nil {
		return nil, eris.Wrapf(err, "layer: zone %s", l.Name)
	}
	z := &model.Zone{
		Area:       str(f.Properties, "area"),
		Year:       int(num(f.Properties, "year")),
		Radius:     int(num(f.Properties, "radius")),
		Population: int64(num(f.Properties, "population")),
		Geometry:   mp,
	}
	if raw, ok := f.Properties["communes"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				z.CommuneIDs = append(z.CommuneIDs, s)
			}
		}
	}
	return z, nil
}

func asMulti(g geom.T) (*geom.MultiPolygon, error) {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(t.SRID())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "layer: promote polygon")
		}
		return mp, nil
	default:
		return nil, eris.Errorf("layer: geometry is %T, want polygon", g)
	}
}
