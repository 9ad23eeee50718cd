package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/brustt/logistics-sprawl/internal/cache"
	"github.com/brustt/logistics-sprawl/internal/config"
	"github.com/brustt/logistics-sprawl/internal/matching"
	"github.com/brustt/logistics-sprawl/internal/metrics"
	"github.com/brustt/logistics-sprawl/internal/model"
	"github.com/brustt/logistics-sprawl/internal/topo"
)

const registryCSV = "siren,siret,dateFin,dateDebut,etatAdministratifEtablissement,activitePrincipaleEtablissement,nomenclatureActivitePrincipaleEtablissement\n" +
	"1,00000000000001,,,A,52.10A,NAFRev2\n" +
	"2,00000000000002,,2015-01-01,A,52.10B,NAFRev2\n" +
	"3,00000000000003,,,A,47.11A,NAFRev2\n"

const geoCSV = "siret;x;y;qualite_xy;epsg\n" +
	"00000000000001;10;10;11;2154\n" +
	"00000000000002;900;0;11;2154\n" +
	"00000000000003;0;0;11;2154\n" +
	"00000000000004;-900;-900;11;2154\n" +
	"00000000000005;10;10;11;4326\n"

var testRegion = config.Region{Name: "Testville"}

func square(x, y, side float64) *geom.MultiPolygon {
	return geom.NewMultiPolygonFlat(geom.XY, []float64{
		x, y, x + side, y, x + side, y + side, x, y + side, x, y,
	}, [][]int{{10}})
}

// fixture writes raw registries and BDTOPO layers for 2013 and 2023: a
// 3x3 grid of 1 km communes around the origin and two warehouses.
func fixture(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	raw := filepath.Join(root, "data", "raw", "SIREN")
	require.NoError(t, os.MkdirAll(raw, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(raw, RegistryFile+".csv"), []byte(registryCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(raw, GeoFile+".csv"), []byte(geoCSV), 0o644))

	cfg := &config.Config{
		Paths: config.PathsConfig{
			DataDir:    filepath.Join(root, "data"),
			ReportsDir: filepath.Join(root, "reports"),
			CacheDir:   filepath.Join(root, "cache"),
		},
		CRS: 2154,
		Pipeline: config.PipelineConfig{
			Years:             []int{2013, 2023},
			Radii:             []int{600, 800},
			DefaultRadius:     800,
			DistanceThreshold: 50,
			MinArea:           1000,
			BufferSegments:    16,
			ZoneReuse:         config.ZoneReuseNone,
			ModernYears:       []int{2023},
		},
		Matching: config.MatchingConfig{Workers: 1},
	}

	src := topo.NewSource(cfg.Paths.DataDir, cfg.CRS)
	var communes []topo.Record
	for j := -1; j <= 1; j++ {
		for i := -1; i <= 1; i++ {
			communes = append(communes, topo.Record{
				Geometry: square(float64(i)*1000-500, float64(j)*1000-500, 1000),
				Attrs: map[string]string{
					"ID":         fmt.Sprintf("C%d%d", i+1, j+1),
					"POPULATION": "1000",
				},
			})
		}
	}
	modern := map[string]string{"NATURE": topo.NatureIndustrial, "USAGE1": topo.UsageIndustrial}
	for _, year := range cfg.Pipeline.Years {
		dir := filepath.Dir(src.LayerPath(testRegion.Slug(), year, "COMMUNE"))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, topo.WritePolygons(filepath.Join(dir, "COMMUNE.shp"), communes))

		nom := topo.ForYear(year, cfg.Pipeline.ModernYears)
		bs := []model.Building{
			{ID: "B1", Attrs: map[string]string{"NATURE": "x"}, Geometry: square(0, 0, 40)},
			{ID: "B2", Attrs: map[string]string{"NATURE": "x"}, Geometry: square(880, -20, 40)},
		}
		if nom.Name() == "modern" {
			bs[0].Attrs, bs[1].Attrs = modern, modern
		}
		require.NoError(t, topo.WriteBuildings(filepath.Join(dir, nom.LayerName()+".shp"), bs))
	}
	return cfg
}

func deps(t *testing.T, cfg *config.Config) (Deps, *metrics.Metrics) {
	t.Helper()
	backend, err := cache.NewFS(cfg.Paths.CacheDir)
	require.NoError(t, err)
	m, err := metrics.New(nil)
	require.NoError(t, err)
	return Deps{Cache: cache.New(backend, cache.Options{Metrics: m}), Metrics: m}, m
}

func ids(bs []model.Building) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.ID
	}
	return out
}

func TestNew_InvalidDate(t *testing.T) {
	cfg := fixture(t)
	d, _ := deps(t, cfg)
	_, err := New(cfg, d, testRegion, "2013/01/01")
	require.Error(t, err)
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := fixture(t)
	d, _ := deps(t, cfg)
	ctx := context.Background()

	r13, err := New(cfg, d, testRegion, "2013-01-01")
	require.NoError(t, err)
	bs, err := r13.Run(ctx, 600)
	require.NoError(t, err)
	assert.Equal(t, []string{"B1"}, ids(bs), "establishment 2 opens in 2015")

	r23, err := New(cfg, d, testRegion, "2023-01-01")
	require.NoError(t, err)
	bs, err = r23.Run(ctx, 600)
	require.NoError(t, err)
	assert.Equal(t, []string{"B1", "B2"}, ids(bs))

	cands, err := r23.Candidates(ctx, 600)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "00000000000001", cands[0].SIRET)

	geo, err := r23.GeoRegistry(ctx, 600)
	require.NoError(t, err)
	assert.Len(t, geo, 3, "corner point and foreign CRS are outside")
}

func TestRun_ArtifactsPersisted(t *testing.T) {
	cfg := fixture(t)
	d, m := deps(t, cfg)
	ctx := context.Background()

	r, err := New(cfg, d, testRegion, "2023-01-01")
	require.NoError(t, err)
	first, err := r.Run(ctx, 800)
	require.NoError(t, err)

	keys, err := d.Cache.List(ctx, "")
	require.NoError(t, err)
	var paths []string
	for _, k := range keys {
		paths = append(paths, k.String())
	}
	assert.ElementsMatch(t, []string{
		"registry/2023-01-01.csv",
		"zone/testville/2023/r800.geojson",
		"georegistry/testville/2023/r800.geojson",
		"candidates/testville/2023/r800.geojson",
		"matched/testville/2023/r800.geojson",
	}, paths)

	// A second runner reads every stage back without the raw inputs.
	require.NoError(t, os.RemoveAll(filepath.Join(cfg.Paths.DataDir, "raw")))
	require.NoError(t, os.RemoveAll(filepath.Join(cfg.Paths.DataDir, "processed")))
	fresh, _ := deps(t, cfg)
	r2, err := New(cfg, fresh, testRegion, "2023-01-01")
	require.NoError(t, err)
	second, err := r2.Run(ctx, 800)
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(second))
	assert.Equal(t, first[1].Geometry.FlatCoords(), second[1].Geometry.FlatCoords())

	assert.InDelta(t, 2.0, gaugeValue(t, m, map[string]string{"area": "testville", "year": "2023", "radius": "800"}), 0)
}

func TestRun_ZoneReuseModes(t *testing.T) {
	ctx := context.Background()

	results := map[string][]string{}
	for _, mode := range []string{config.ZoneReuseNone, config.ZoneReuseMaxInput, config.ZoneReuseMaxZone} {
		cfg := fixture(t)
		cfg.Pipeline.ZoneReuse = mode
		d, _ := deps(t, cfg)
		r, err := New(cfg, d, testRegion, "2023-01-01")
		require.NoError(t, err)

		bs, err := r.Run(ctx, 600)
		require.NoError(t, err, mode)
		results[mode] = ids(bs)

		z, err := r.Zone(ctx, 600)
		require.NoError(t, err)
		geo, err := r.GeoRegistry(ctx, 600)
		require.NoError(t, err)
		switch mode {
		case config.ZoneReuseMaxZone:
			assert.Len(t, z.CommuneIDs, 9, "zone of the largest radius")
			assert.Len(t, geo, 4)
		default:
			assert.Len(t, z.CommuneIDs, 5, mode)
			assert.Len(t, geo, 3, mode)
		}
	}
	assert.Equal(t, results[config.ZoneReuseNone], results[config.ZoneReuseMaxInput])
	assert.Equal(t, results[config.ZoneReuseNone], results[config.ZoneReuseMaxZone])
}

func TestRun_MaxZoneDoesNotShadowExact(t *testing.T) {
	cfg := fixture(t)
	d, _ := deps(t, cfg)
	ctx := context.Background()

	cfg.Pipeline.ZoneReuse = config.ZoneReuseMaxZone
	wide, err := New(cfg, d, testRegion, "2023-01-01")
	require.NoError(t, err)
	_, err = wide.Run(ctx, 600)
	require.NoError(t, err)

	keys, err := d.Cache.List(ctx, "georegistry/")
	require.NoError(t, err)
	var paths []string
	for _, k := range keys {
		paths = append(paths, k.String())
	}
	assert.ElementsMatch(t, []string{
		"georegistry/testville/2023/r800.geojson",
		"georegistry/testville/2023/r600~maxzone.geojson",
	}, paths)

	exactCfg := *cfg
	exactCfg.Pipeline.ZoneReuse = config.ZoneReuseNone
	exact, err := New(&exactCfg, d, testRegion, "2023-01-01")
	require.NoError(t, err)
	z, err := exact.Zone(ctx, 600)
	require.NoError(t, err)
	assert.Equal(t, 600, z.Radius)
	assert.Len(t, z.CommuneIDs, 5)
	geo, err := exact.GeoRegistry(ctx, 600)
	require.NoError(t, err)
	assert.Len(t, geo, 3)
}

func TestRun_StageErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing building layer", func(t *testing.T) {
		cfg := fixture(t)
		src := topo.NewSource(cfg.Paths.DataDir, cfg.CRS)
		require.NoError(t, os.Remove(src.LayerPath("testville", 2023, "BATIMENT")))
		d, _ := deps(t, cfg)
		r, err := New(cfg, d, testRegion, "2023-01-01")
		require.NoError(t, err)

		_, err = r.Run(ctx, 600)
		require.Error(t, err)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, cache.StageMatched, se.Stage)
		assert.Equal(t, 600, se.Radius)
		assert.ErrorIs(t, err, matching.ErrNoBuildingLayer)

		_, ok, err := d.Cache.Get(ctx, cache.LayerKey(cache.StageMatched, "testville", 2023, 600))
		require.NoError(t, err)
		assert.False(t, ok, "failed stage writes nothing")
	})

	t.Run("missing registry", func(t *testing.T) {
		cfg := fixture(t)
		require.NoError(t, os.Remove(filepath.Join(cfg.Paths.DataDir, "raw", "SIREN", RegistryFile+".csv")))
		d, _ := deps(t, cfg)
		r, err := New(cfg, d, testRegion, "2023-01-01")
		require.NoError(t, err)

		_, err = r.Run(ctx, 600)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, cache.StageRegistry, se.Stage)
	})

	t.Run("empty zone", func(t *testing.T) {
		cfg := fixture(t)
		d, _ := deps(t, cfg)
		far := config.Region{Name: "Testville", CenterX: 1e6, CenterY: 1e6}
		r, err := New(cfg, d, far, "2023-01-01")
		require.NoError(t, err)

		_, err = r.Zone(ctx, 600)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, cache.StageZone, se.Stage)
		assert.Contains(t, se.Error(), "testville/2023 r=600")
	})

	t.Run("cancelled", func(t *testing.T) {
		cfg := fixture(t)
		d, _ := deps(t, cfg)
		r, err := New(cfg, d, testRegion, "2023-01-01")
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = r.Run(cctx, 600)
		require.Error(t, err)
		keys, err := d.Cache.List(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestRunAll(t *testing.T) {
	cfg := fixture(t)
	d, _ := deps(t, cfg)
	r, err := New(cfg, d, testRegion, "2023-01-01")
	require.NoError(t, err)

	out, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, []string{"B1", "B2"}, ids(out[800]))
}

func TestEpochs(t *testing.T) {
	assert.Equal(t, [][2]int{{2008, 2013}, {2008, 2023}, {2013, 2023}}, Epochs([]int{2023, 2008, 2013}))
	assert.Empty(t, Epochs([]int{2013}))
	assert.Equal(t, "2008-01-01", YearDate(2008))
}

func TestAnalyze(t *testing.T) {
	cfg := fixture(t)
	d, _ := deps(t, cfg)

	rows, err := Analyze(context.Background(), cfg, d, testRegion, "2013-01-01", "2023-01-01")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	row := rows[0]
	assert.Equal(t, "Testville", row.Metro)
	assert.Equal(t, 2013, row.TimePeriodStart)
	assert.Equal(t, 2023, row.TimePeriodEnd)
	assert.Equal(t, 1, row.NumberWareT0)
	assert.Equal(t, 2, row.NumberWareT1)
	assert.Equal(t, 5, row.NumberMun)
	assert.InDelta(t, 100.0, row.PercWareChange, 1e-9)
	assert.Equal(t, 9, rows[1].NumberMun)

	_, err = Analyze(context.Background(), cfg, d, testRegion, "2023-01-01", "2013-01-01")
	require.Error(t, err)
}

func TestReport(t *testing.T) {
	cfg := fixture(t)
	d, _ := deps(t, cfg)

	paths, err := Report(context.Background(), cfg, d, testRegion)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(cfg.Paths.ReportsDir, "testville", "statistics_testville_2013_2023.csv"), paths[0])
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}

func gaugeValue(t *testing.T, m *metrics.Metrics, labels map[string]string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "sprawl_matched_buildings" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			if assert.ObjectsAreEqual(labels, got) {
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("gauge %v not found", labels)
	return 0
}
