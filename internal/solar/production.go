package solar

import (
	"github.com/heliomap/heliomap/internal/geo"
	"github.com/heliomap/heliomap/internal/layout"
	"github.com/heliomap/heliomap/internal/raster"
)

// ComputeProduction returns a copy of panels with AnnualKwh filled from
// the flux raster: the 3x3 neighborhood mean around each panel center, in
// kWh per kW per year, times the module capacity. Panels outside the flux
// extent keep whatever yield they already carried. The input slice is
// never modified.
func ComputeProduction(panels []layout.Panel, flux *raster.Flux, dims layout.Dimensions, toProjected func(geo.Point) geo.Projected) []layout.Panel {
	out := make([]layout.Panel, len(panels))
	copy(out, panels)

	if flux == nil || toProjected == nil {
		return out
	}
	capacityKw := dims.CapacityWatts / 1000
	if capacityKw <= 0 {
		return out
	}

	for i := range out {
		mean, ok := flux.NeighborhoodMean(toProjected(out[i].Center))
		if !ok {
			continue
		}
		yield := mean * capacityKw
		out[i].AnnualKwh = &yield
	}
	return out
}
