package topo

import (
	"slices"

	"github.com/brustt/logistics-sprawl/internal/model"
)

// Building attribute values of the post-2023 BDTOPO schema.
const (
	NatureIndustrial  = "Industriel, agricole ou commercial"
	UsageIndustrial   = "Industriel"
	UsageCommercial   = "Commercial et services"
	legacyLayerName   = "BATI_INDUSTRIEL"
	modernLayerName   = "BATIMENT"
	communesLayerName = "COMMUNE"
)

// Nomenclature selects the industrial buildings of one BDTOPO schema edition.
type Nomenclature interface {
	// Name identifies the schema in logs.
	Name() string
	// LayerName is the shapefile stem holding the building footprints.
	LayerName() string
	// Keep reports whether b is an industrial building.
	Keep(b model.Building) bool
}

// LegacySchema reads the pre-filtered industrial building layer as is.
type LegacySchema struct{}

func (LegacySchema) Name() string             { return "legacy" }
func (LegacySchema) LayerName() string        { return legacyLayerName }
func (LegacySchema) Keep(model.Building) bool { return true }

// ModernSchema filters the full building layer on nature and usage.
type ModernSchema struct{}

func (ModernSchema) Name() string      { return "modern" }
func (ModernSchema) LayerName() string { return modernLayerName }

func (ModernSchema) Keep(b model.Building) bool {
	if b.Attr("NATURE") != NatureIndustrial {
		return false
	}
	switch b.Attr("USAGE1") {
	case UsageIndustrial:
		return true
	case UsageCommercial:
		return b.Attr("USAGE2") == UsageIndustrial
	}
	return false
}

// ForYear returns ModernSchema for years listed in modernYears and
// LegacySchema otherwise.
func ForYear(year int, modernYears []int) Nomenclature {
	if slices.Contains(modernYears, year) {
		return ModernSchema{}
	}
	return LegacySchema{}
}
