package topo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/brustt/logistics-sprawl/internal/model"
)

func squareMP(x, y, side float64) *geom.MultiPolygon {
	return geom.NewMultiPolygonFlat(geom.XY, []float64{
		x, y, x + side, y, x + side, y + side, x, y + side, x, y,
	}, [][]int{{10}})
}

func layerDir(t *testing.T, root, area string, year int) string {
	t.Helper()
	src := NewSource(root, 2154)
	dir := filepath.Dir(src.LayerPath(area, year, "X"))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func TestShapeToMultiPolygon_GroupsHoles(t *testing.T) {
	// Clockwise shell with a counter-clockwise hole, then a second shell.
	shape := (*shp.Polygon)(shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}},
		{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}},
		{{X: 20, Y: 0}, {X: 20, Y: 5}, {X: 25, Y: 5}, {X: 25, Y: 0}, {X: 20, Y: 0}},
	}))

	mp := ShapeToMultiPolygon(shape, 2154)
	require.NotNil(t, mp)
	assert.Equal(t, 2, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings())
	assert.Equal(t, 1, mp.Polygon(1).NumLinearRings())
	assert.Equal(t, 2154, mp.SRID())
}

func TestShapeToMultiPolygon_Unsupported(t *testing.T) {
	assert.Nil(t, ShapeToMultiPolygon(&shp.Point{X: 1, Y: 2}, 2154))
	assert.Nil(t, ShapeToMultiPolygon(nil, 2154))
}

func TestSource_CommunesRoundTrip(t *testing.T) {
	root := t.TempDir()
	dir := layerDir(t, root, "lyon", 2013)

	err := WritePolygons(filepath.Join(dir, "COMMUNE.shp"), []Record{
		{Geometry: squareMP(0, 0, 1000), Attrs: map[string]string{"ID": "COMMUNE_1", "NOM": "Villeurbanne", "POPULATION": "150000"}},
		{Geometry: squareMP(1000, 0, 1000), Attrs: map[string]string{"ID": "COMMUNE_2", "NOM": "Vénissieux", "POPULATION": "65000"}},
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "COMMUNE.dbf"))
	assert.NoFileExists(t, filepath.Join(dir, "COMMUNEdbf"))

	communes, err := NewSource(root, 2154).Communes(context.Background(), "lyon", 2013)
	require.NoError(t, err)
	require.Len(t, communes, 2)
	assert.Equal(t, "COMMUNE_1", communes[0].ID)
	assert.Equal(t, int64(150000), communes[0].Population)
	assert.Equal(t, "Vénissieux", communes[1].Name)
	assert.Equal(t, []float64{1000, 0}, communes[1].Geometry.FlatCoords()[:2])
}

func TestSource_BuildingsModernFilter(t *testing.T) {
	root := t.TempDir()
	dir := layerDir(t, root, "lyon", 2023)

	bs := []model.Building{
		{ID: "B1", Attrs: map[string]string{"NATURE": NatureIndustrial, "USAGE1": UsageIndustrial}, Geometry: squareMP(0, 0, 40)},
		{ID: "B2", Attrs: map[string]string{"NATURE": NatureIndustrial, "USAGE1": UsageCommercial, "USAGE2": UsageIndustrial}, Geometry: squareMP(100, 0, 40)},
		{ID: "B3", Attrs: map[string]string{"NATURE": NatureIndustrial, "USAGE1": UsageCommercial, "USAGE2": "Résidentiel"}, Geometry: squareMP(200, 0, 40)},
		{ID: "B4", Attrs: map[string]string{"NATURE": "Indifférenciée", "USAGE1": UsageIndustrial}, Geometry: squareMP(300, 0, 40)},
	}
	require.NoError(t, WriteBuildings(filepath.Join(dir, "BATIMENT.shp"), bs))

	got, err := NewSource(root, 2154).Buildings(context.Background(), "lyon", 2023, ModernSchema{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B1", got[0].ID)
	assert.Equal(t, "B2", got[1].ID)
	assert.Empty(t, got[0].Attr("ID"), "ID is lifted out of the attributes")
}

func TestReadPolygons_AttributesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "BATIMENT.shp")
	require.NoError(t, WritePolygons(path, []Record{
		{Geometry: squareMP(0, 0, 10), Attrs: map[string]string{"NATURE": "x", "USAGE1": "Industriel"}},
	}))

	recs, err := ReadPolygons(path, 2154)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, map[string]string{"NATURE": "x", "USAGE1": "Industriel"}, recs[0].Attrs)
}

func TestSource_BuildingsLegacyPassThrough(t *testing.T) {
	root := t.TempDir()
	dir := layerDir(t, root, "lyon", 2008)

	bs := []model.Building{
		{ID: "L1", Attrs: map[string]string{"NATURE": "Silo"}, Geometry: squareMP(0, 0, 40)},
		{ID: "L2", Attrs: map[string]string{"NATURE": "Bâtiment industriel"}, Geometry: squareMP(100, 0, 40)},
	}
	require.NoError(t, WriteBuildings(filepath.Join(dir, "BATI_INDUSTRIEL.shp"), bs))

	got, err := NewSource(root, 2154).Buildings(context.Background(), "lyon", 2008, ForYear(2008, []int{2023}))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSource_MissingLayer(t *testing.T) {
	_, err := NewSource(t.TempDir(), 2154).Buildings(context.Background(), "lyon", 2013, LegacySchema{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrLayerNotFound))
}

func TestForYear(t *testing.T) {
	assert.Equal(t, "modern", ForYear(2023, []int{2023}).Name())
	assert.Equal(t, "legacy", ForYear(2013, []int{2023}).Name())
	assert.Equal(t, "BATI_INDUSTRIEL", ForYear(2008, nil).LayerName())
}

func TestDecodeAttr_Latin1(t *testing.T) {
	assert.Equal(t, "Vénissieux", decodeAttr("V\xe9nissieux"))
	assert.Equal(t, "plain", decodeAttr("plain"))
}
