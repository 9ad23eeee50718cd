// Package cache addresses stage artifacts by a structured key and stores
// them in a pluggable backend. Lookups are check-then-write: concurrent runs
// computing the same key race and the last writer wins.
package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Stage names one pipeline artifact family.
type Stage string

// Artifact stages.
const (
	StageRegistry    Stage = "registry"
	StageZone        Stage = "zone"
	StageGeoRegistry Stage = "georegistry"
	StageCandidates  Stage = "candidates"
	StageMatched     Stage = "matched"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageRegistry, StageZone, StageGeoRegistry, StageCandidates, StageMatched}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, st := range Stages {
		if s == st {
			return true
		}
	}
	return false
}

// VariantMaxZone marks layers computed from the zone of the largest radius
// instead of the exact zone of their own radius.
const VariantMaxZone = "maxzone"

// Key identifies one artifact. Registry artifacts are keyed by Date only;
// every other stage by (Area, Year, Radius) plus an optional Variant for
// approximate results.
type Key struct {
	Stage   Stage
	Area    string
	Year    int
	Radius  int
	Date    string
	Variant string
}

// RegistryKey returns the key of the filtered registry at date.
func RegistryKey(date string) Key {
	return Key{Stage: StageRegistry, Date: date}
}

// LayerKey returns the key of a spatial artifact.
func LayerKey(stage Stage, area string, year, radius int) Key {
	return Key{Stage: stage, Area: area, Year: year, Radius: radius}
}

// WithVariant returns k tagged with variant.
func (k Key) WithVariant(variant string) Key {
	k.Variant = variant
	return k
}

// String returns the stable path form, e.g. "zone/lyon/2013/r25000.geojson"
// or "zone/lyon/2013/r5000~maxzone.geojson".
func (k Key) String() string {
	if k.Stage == StageRegistry {
		return fmt.Sprintf("%s/%s.csv", k.Stage, k.Date)
	}
	name := fmt.Sprintf("r%d", k.Radius)
	if k.Variant != "" {
		name += "~" + k.Variant
	}
	return fmt.Sprintf("%s/%s/%d/%s.geojson", k.Stage, k.Area, k.Year, name)
}

// ContentType is the media type of the artifact bytes.
func (k Key) ContentType() string {
	if k.Stage == StageRegistry {
		return "text/csv"
	}
	return "application/geo+json"
}

// ErrInvalidKey is returned when a path does not name an artifact.
var ErrInvalidKey = eris.New("cache: invalid key")

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	stage := Stage(parts[0])
	if !stage.Valid() {
		return Key{}, eris.Wrapf(ErrInvalidKey, "cache: unknown stage in %q", s)
	}
	if stage == StageRegistry {
		if len(parts) != 2 || !strings.HasSuffix(parts[1], ".csv") {
			return Key{}, eris.Wrapf(ErrInvalidKey, "cache: malformed registry key %q", s)
		}
		return RegistryKey(strings.TrimSuffix(parts[1], ".csv")), nil
	}
	if len(parts) != 4 || !strings.HasSuffix(parts[3], ".geojson") {
		return Key{}, eris.Wrapf(ErrInvalidKey, "cache: malformed layer key %q", s)
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return Key{}, eris.Wrapf(ErrInvalidKey, "cache: bad year in %q", s)
	}
	radius, variant, err := ParseLayerName(parts[3])
	if err != nil {
		return Key{}, eris.Wrapf(err, "cache: bad layer name in %q", s)
	}
	return LayerKey(stage, parts[1], year, radius).WithVariant(variant), nil
}

// ParseLayerName parses the last segment of a layer key, "r<radius>" with
// an optional "~<variant>" and ".geojson" suffix.
func ParseLayerName(name string) (radius int, variant string, err error) {
	name = strings.TrimSuffix(name, ".geojson")
	if !strings.HasPrefix(name, "r") {
		return 0, "", eris.Wrapf(ErrInvalidKey, "cache: layer name %q has no radius", name)
	}
	name, variant, found := strings.Cut(name[1:], "~")
	if found && variant == "" {
		return 0, "", eris.Wrapf(ErrInvalidKey, "cache: empty variant in %q", name)
	}
	radius, err = strconv.Atoi(name)
	if err != nil {
		return 0, "", eris.Wrapf(ErrInvalidKey, "cache: bad radius %q", name)
	}
	return radius, variant, nil
}
