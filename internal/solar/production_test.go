package solar

import (
	"math"
	"testing"

	"github.com/heliomap/heliomap/internal/geo"
	"github.com/heliomap/heliomap/internal/layout"
	"github.com/heliomap/heliomap/internal/raster"
)

func fluxAround(t *testing.T, center geo.Point, value float64) (*raster.Flux, *geo.Projector) {
	t.Helper()

	proj, err := geo.NewProjector(center)
	if err != nil {
		t.Fatalf("NewProjector failed: %v", err)
	}
	pc := proj.ToProjected(center)

	grid := geo.Grid{
		Bounds: geo.Bounds{MinX: pc.X - 20, MinY: pc.Y - 20, MaxX: pc.X + 20, MaxY: pc.Y + 20},
		Width:  8,
		Height: 8,
	}
	samples := make([]float64, grid.Width*grid.Height)
	for i := range samples {
		samples[i] = value
	}
	return &raster.Flux{Grid: grid, Samples: samples}, proj
}

func TestComputeProduction(t *testing.T) {
	center := geo.Point{Latitude: 29.7506, Longitude: -95.4265}
	flux, proj := fluxAround(t, center, 1000)
	dims := layout.Dimensions{WidthMeters: 0.99, HeightMeters: 1.65, CapacityWatts: 400}

	prior := 123.0
	panels := []layout.Panel{
		{Index: 0, Center: center},
		// Roughly one kilometer north, far outside the flux extent.
		{Index: 1, Center: geo.Point{Latitude: 29.7596, Longitude: -95.4265}, AnnualKwh: &prior},
	}

	out := ComputeProduction(panels, flux, dims, proj.ToProjected)

	if out[0].AnnualKwh == nil {
		t.Fatal("expected a computed yield for the panel on the flux grid")
	}
	// 1000 kWh/kW/year at 0.4 kW.
	if math.Abs(*out[0].AnnualKwh-400) > 1e-9 {
		t.Errorf("yield = %f, want 400", *out[0].AnnualKwh)
	}

	if out[1].AnnualKwh == nil || *out[1].AnnualKwh != prior {
		t.Errorf("panel outside the flux extent should keep its prior yield, got %v", out[1].AnnualKwh)
	}

	// The input slice stays untouched.
	if panels[0].AnnualKwh != nil {
		t.Error("input panel gained a yield")
	}
}

func TestComputeProduction_Guards(t *testing.T) {
	center := geo.Point{Latitude: 29.7506, Longitude: -95.4265}
	flux, proj := fluxAround(t, center, 1000)
	panels := []layout.Panel{{Index: 0, Center: center}}

	out := ComputeProduction(panels, nil, layout.Dimensions{CapacityWatts: 400}, proj.ToProjected)
	if out[0].AnnualKwh != nil {
		t.Error("nil flux must not produce yields")
	}

	out = ComputeProduction(panels, flux, layout.Dimensions{}, proj.ToProjected)
	if out[0].AnnualKwh != nil {
		t.Error("zero capacity must not produce yields")
	}

	out = ComputeProduction(panels, flux, layout.Dimensions{CapacityWatts: 400}, nil)
	if out[0].AnnualKwh != nil {
		t.Error("missing projection must not produce yields")
	}
}
