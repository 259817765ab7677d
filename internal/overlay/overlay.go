// Package overlay merges the aerial backdrop with classified panel
// polygons into drawable and exportable form.
package overlay

import (
	"image/color"

	"github.com/heliomap/heliomap/internal/geo"
	"github.com/heliomap/heliomap/internal/layout"
)

// Tier palette. Fills use the base hue at fixed opacity, borders a
// darkened shade at full opacity.
var tierColors = map[layout.Tier]color.NRGBA{
	layout.TierHigh:    {R: 0x22, G: 0xC5, B: 0x5E, A: 0xFF},
	layout.TierMedium:  {R: 0xEA, G: 0xB3, B: 0x08, A: 0xFF},
	layout.TierLow:     {R: 0xEF, G: 0x44, B: 0x44, A: 0xFF},
	layout.TierUnknown: {R: 0x9C, G: 0xA3, B: 0xAF, A: 0xFF},
}

const fillAlpha = 140

// TierColor returns the base display color of a tier.
func TierColor(t layout.Tier) color.NRGBA {
	if c, ok := tierColors[t]; ok {
		return c
	}
	return tierColors[layout.TierUnknown]
}

func fillColor(t layout.Tier) color.NRGBA {
	c := TierColor(t)
	c.A = fillAlpha
	return c
}

func borderColor(t layout.Tier) color.NRGBA {
	c := TierColor(t)
	c.R = uint8(float64(c.R) * 0.65)
	c.G = uint8(float64(c.G) * 0.65)
	c.B = uint8(float64(c.B) * 0.65)
	return c
}

// Polygon is one drawable panel footprint.
type Polygon struct {
	Index         int           `json:"index"`
	Corners       [4]geo.Pixel  `json:"corners"`
	GeoCorners    [4]geo.Point  `json:"geoCorners"`
	Tier          layout.Tier   `json:"-"`
	AnnualKwh     *float64      `json:"annualKwh,omitempty"`
	LowConfidence bool          `json:"lowConfidence,omitempty"`
}

// Overlay is the drawable state for one selection: the polygons of the
// active panels against a raster grid.
type Overlay struct {
	Grid        geo.Grid
	ActiveCount int
	SystemKw    float64
	Polygons    []Polygon
}

// Build computes the polygons for the first activeCount panels in
// priority order. Pure with respect to its inputs: same arguments, same
// overlay. Panels whose centers fall outside the canvas are skipped,
// panels without a resolvable segment are kept but flagged low
// confidence.
func Build(proj *geo.Projector, grid geo.Grid, dims layout.Dimensions, panels []layout.Panel, segments []layout.Segment, tiers map[int]layout.Tier, activeCount int) Overlay {
	if activeCount < 0 {
		activeCount = 0
	}
	if activeCount > len(panels) {
		activeCount = len(panels)
	}

	builder := layout.GeometryBuilder{Projector: proj, Grid: grid, Dims: dims}
	ov := Overlay{
		Grid:        grid,
		ActiveCount: activeCount,
		SystemKw:    float64(activeCount) * dims.CapacityWatts / 1000,
		Polygons:    make([]Polygon, 0, activeCount),
	}

	for _, panel := range panels[:activeCount] {
		segment := panel.SegmentFor(segments)
		corners, ok := builder.BuildPolygon(panel, segment)
		if !ok {
			continue
		}

		poly := Polygon{
			Index:         panel.Index,
			Corners:       corners,
			Tier:          tiers[panel.Index],
			AnnualKwh:     panel.AnnualKwh,
			LowConfidence: segment == nil,
		}
		for i, c := range corners {
			poly.GeoCorners[i], _ = proj.PixelToGeo(c, grid)
		}
		ov.Polygons = append(ov.Polygons, poly)
	}

	return ov
}

// FeatureCollection renders the overlay as GeoJSON polygons carrying
// tier and production properties, for downstream mapping tools.
func (o Overlay) FeatureCollection() geo.FeatureCollection {
	features := make([]geo.Feature, 0, len(o.Polygons))
	for _, p := range o.Polygons {
		g, err := geo.RingGeometry(p.GeoCorners[:])
		if err != nil {
			continue
		}

		props := map[string]interface{}{
			"index": p.Index,
			"tier":  p.Tier.String(),
		}
		if p.AnnualKwh != nil {
			props["annualKwh"] = *p.AnnualKwh
		}
		if p.LowConfidence {
			props["lowConfidence"] = true
		}
		features = append(features, geo.Feature{Properties: props, Geometry: g})
	}
	return geo.NewFeatureCollection(features)
}
