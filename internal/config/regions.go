package config

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/brustt/logistics-sprawl/internal/model"
)

// Region is one metropolitan study area.
type Region struct {
	Name        string   `yaml:"name"`
	CenterX     float64  `yaml:"center_x"`
	CenterY     float64  `yaml:"center_y"`
	Departments []string `yaml:"departments"`
}

// Slug is the area name used in cache keys and data paths.
func (r Region) Slug() string { return model.Slug(r.Name) }

// Regions indexes regions by slug.
type Regions map[string]Region

// ErrUnknownRegion is returned by Lookup for a name not in the catalog.
var ErrUnknownRegion = eris.New("config: unknown region")

// Lookup finds a region by name or slug.
func (rs Regions) Lookup(name string) (Region, error) {
	if r, ok := rs[model.Slug(name)]; ok {
		return r, nil
	}
	return Region{}, eris.Wrapf(ErrUnknownRegion, "config: region %q", name)
}

// Names returns the region slugs, sorted.
func (rs Regions) Names() []string {
	out := make([]string, 0, len(rs))
	for k := range rs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultRegions is the built-in catalog.
func DefaultRegions() Regions {
	lyon := Region{Name: "Lyon", CenterX: 841650, CenterY: 6517765, Departments: []string{"01", "38", "69", "42"}}
	return Regions{lyon.Slug(): lyon}
}

type regionsFile struct {
	Regions []Region `yaml:"regions"`
}

// LoadRegions reads a regions catalog. An empty path yields DefaultRegions.
func LoadRegions(path string) (Regions, error) {
	if path == "" {
		return DefaultRegions(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read regions %s", path)
	}
	var f regionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse regions %s", path)
	}
	out := make(Regions, len(f.Regions))
	for _, r := range f.Regions {
		if r.Name == "" {
			return nil, eris.Errorf("config: region without name in %s", path)
		}
		out[r.Slug()] = r
	}
	if len(out) == 0 {
		return nil, eris.Errorf("config: no regions in %s", path)
	}
	return out, nil
}
