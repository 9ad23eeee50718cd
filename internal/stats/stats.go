// Package stats computes the logistics-sprawl indicators of two epochs and
// writes them as CSV and XLSX reports.
package stats

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/brustt/logistics-sprawl/internal/model"
	"github.com/brustt/logistics-sprawl/internal/spatial"
)

// Fixed descriptive fields of every row.
const (
	Country     = "France"
	Continent   = "Europe"
	DataSources = "BDTOPO_IGN,SIREN"
)

// Epoch is the input of one side of the comparison: the matched warehouses
// and the communes intersecting the buffer, both for Year.
type Epoch struct {
	Year       int
	Warehouses []model.Building
	Communes   []model.Commune
}

// Row is one line of the statistics report, for one radius.
type Row struct {
	Radius                int    `csv:"radius"` // km
	Metro                 string `csv:"metro"`
	MegaRegion            string `csv:"mega_region"`
	Country               string `csv:"country"`
	Continent             string `csv:"continent"`
	DataSources           string `csv:"data_sources"`
	TimePeriodStart       int    `csv:"time_period_start"`
	TimePeriodEnd         int    `csv:"time_period_end"`
	YearsData             int    `csv:"years_data"`
	SurfacesAreaAvailable bool   `csv:"surfaces_area_available"`
	UrbanCentrality       string `csv:"urban_centrality"`
	Gateway               string `csv:"gateway"`

	Area      float64 `csv:"area"` // km², 1 dp
	NumberMun int     `csv:"number_mun"`

	PopulationT0           float64 `csv:"population_t0"` // millions
	DensityPopKm2T0        float64 `csv:"density_pop_km2_t0"`
	NumberWareT0           int     `csv:"number_ware_t0"`
	NumberWarePerPopMT0    float64 `csv:"number_ware_per_popM_t0"`
	NumberWarePer1000Km2T0 float64 `csv:"number_ware_per_1000km2_t0"`
	AvgSizeWareT0          float64 `csv:"avg_size_ware_t0"` // m²
	GravityT0              float64 `csv:"gravity_t0"`       // km

	PopulationT1           float64 `csv:"population_t1"`
	DensityPopKm2T1        float64 `csv:"density_pop_km2_t1"`
	NumberWareT1           int     `csv:"number_ware_t1"`
	NumberWarePerPopMT1    float64 `csv:"number_ware_per_popM_t1"`
	NumberWarePer1000Km2T1 float64 `csv:"number_ware_per_1000km2_t1"`
	AvgSizeWareT1          float64 `csv:"avg_size_ware_t1"`
	GravityT1              float64 `csv:"gravity_t1"`

	PopChange               float64 `csv:"pop_change"`
	GravityChange           float64 `csv:"gravity_change"`
	NumberWareChange        int     `csv:"number_ware_change"`
	PercWareChange          float64 `csv:"perc_ware_change"`
	NumberWarePerPopMChange float64 `csv:"number_ware_per_popM_change"`
	LogSprawlMeasure        float64 `csv:"log_sprawl_measure"` // km per year
}

// epochStats are the per-epoch indicators.
type epochStats struct {
	population float64
	density    float64
	count      int
	perPopM    float64
	per1000Km2 float64
	avgSize    float64
	gravity    float64
}

// Compute builds the report row of one radius (metres) from both epochs.
// The area block describes the communes of the later epoch.
func Compute(metro string, radius int, t0, t1 Epoch) Row {
	s0, s1 := epochStatistics(t0), epochStatistics(t1)
	row := Row{
		Radius:                radius / 1000,
		Metro:                 metro,
		Country:               Country,
		Continent:             Continent,
		DataSources:           DataSources,
		TimePeriodStart:       t0.Year,
		TimePeriodEnd:         t1.Year,
		YearsData:             t1.Year - t0.Year,
		SurfacesAreaAvailable: true,

		Area:      round(communeArea(t1.Communes)/1e6, 1),
		NumberMun: uniqueCommunes(t1.Communes),

		PopulationT0:           s0.population,
		DensityPopKm2T0:        s0.density,
		NumberWareT0:           s0.count,
		NumberWarePerPopMT0:    s0.perPopM,
		NumberWarePer1000Km2T0: s0.per1000Km2,
		AvgSizeWareT0:          s0.avgSize,
		GravityT0:              s0.gravity,

		PopulationT1:           s1.population,
		DensityPopKm2T1:        s1.density,
		NumberWareT1:           s1.count,
		NumberWarePerPopMT1:    s1.perPopM,
		NumberWarePer1000Km2T1: s1.per1000Km2,
		AvgSizeWareT1:          s1.avgSize,
		GravityT1:              s1.gravity,

		PopChange:               s1.population - s0.population,
		GravityChange:           s1.gravity - s0.gravity,
		NumberWareChange:        s1.count - s0.count,
		NumberWarePerPopMChange: s1.perPopM - s0.perPopM,
		LogSprawlMeasure:        SprawlMeasure(s0.gravity, s1.gravity, t0.Year, t1.Year),
	}
	if s0.count > 0 {
		row.PercWareChange = float64(s1.count-s0.count) / float64(s0.count) * 100
	}
	return row
}

// SprawlMeasure is the gravity change per elapsed year, in the unit of the
// gravities given. Equal years yield 0.
func SprawlMeasure(g0, g1 float64, y0, y1 int) float64 {
	if y1 == y0 {
		return 0
	}
	return (g1 - g0) / float64(y1-y0)
}

// Gravity is the mean distance of the warehouse centroids from their mean
// point, in CRS units.
func Gravity(ws []model.Building) float64 {
	pts := make([]geom.Coord, 0, len(ws))
	for _, w := range ws {
		if w.Geometry == nil || w.Geometry.Empty() {
			continue
		}
		pts = append(pts, spatial.Centroid(w.Geometry))
	}
	return spatial.MeanDistance(pts)
}

func epochStatistics(e Epoch) epochStats {
	var pop int64
	for _, c := range e.Communes {
		pop += c.Population
	}
	area := communeArea(e.Communes)
	popM := round(float64(pop)/1e6, 2)

	ids := make(map[string]bool, len(e.Warehouses))
	var sizes float64
	for _, w := range e.Warehouses {
		ids[w.ID] = true
		sizes += spatial.Area(w.Geometry)
	}
	s := epochStats{population: popM, count: len(ids)}
	if area > 0 {
		s.density = round(float64(pop)/(area/1e6), 2)
		s.per1000Km2 = float64(s.count) / (area / 1e9)
	}
	if popM > 0 {
		s.perPopM = math.RoundToEven(float64(s.count) / popM)
	}
	if len(e.Warehouses) > 0 {
		s.avgSize = round(sizes/float64(len(e.Warehouses)), 2)
	}
	s.gravity = round(Gravity(e.Warehouses)/1000, 2)
	return s
}

// communeArea is the area of the communes' union; communes do not overlap.
func communeArea(cs []model.Commune) float64 {
	var total float64
	for _, c := range cs {
		total += spatial.Area(c.Geometry)
	}
	return total
}

func uniqueCommunes(cs []model.Commune) int {
	ids := make(map[string]bool, len(cs))
	for _, c := range cs {
		ids[c.ID] = true
	}
	return len(ids)
}

// round rounds half to even at the given number of decimals.
func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.RoundToEven(v*p) / p
}
