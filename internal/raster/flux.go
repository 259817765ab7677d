package raster

import (
	"image"
	"math"

	"github.com/heliomap/heliomap/internal/geo"
)

// FluxScale maps the normalized sample range of a flux payload back to
// physical units (kWh per kW of capacity per year).
type FluxScale struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Flux is a georeferenced grid of annual solar flux samples in kWh/kW/year.
// Samples is row-major with Grid.Width*Grid.Height entries; cells without
// data hold NaN.
type Flux struct {
	Grid    geo.Grid
	Samples []float64
}

// NewFlux decodes a flux payload image into physical samples. The image
// carries normalized intensities, pixels with zero alpha mark missing data.
func NewFlux(bounds geo.Bounds, img image.Image, scale FluxScale) (*Flux, error) {
	grid := geo.Grid{
		Bounds: bounds,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	span := scale.Max - scale.Min
	samples := make([]float64, grid.Width*grid.Height)
	min := img.Bounds().Min

	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			r, _, _, a := img.At(min.X+col, min.Y+row).RGBA()
			if a == 0 {
				samples[row*grid.Width+col] = math.NaN()
				continue
			}
			samples[row*grid.Width+col] = scale.Min + float64(r)/65535*span
		}
	}

	return &Flux{Grid: grid, Samples: samples}, nil
}

// At returns the sample of a cell, false for out-of-range or no-data cells.
func (f *Flux) At(col, row int) (float64, bool) {
	if col < 0 || col >= f.Grid.Width || row < 0 || row >= f.Grid.Height {
		return 0, false
	}
	v := f.Samples[row*f.Grid.Width+col]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Sample returns the value of the cell containing a projected point.
func (f *Flux) Sample(p geo.Projected) (float64, bool) {
	px := f.Grid.ToPixel(p)
	return f.At(int(math.Floor(px.X)), int(math.Floor(px.Y)))
}

// NeighborhoodMean averages the 3x3 cells around the cell containing p.
// Cells outside the grid or without data are left out of the mean; the
// second return is false when no cell contributed.
func (f *Flux) NeighborhoodMean(p geo.Projected) (float64, bool) {
	px := f.Grid.ToPixel(p)
	col := int(math.Floor(px.X))
	row := int(math.Floor(px.Y))

	sum := 0.0
	n := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if v, ok := f.At(col+dx, row+dy); ok {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// ResampleTo produces a flux grid over the target extent and resolution by
// nearest-neighbor lookup. Target cells outside the source extent carry no
// data.
func (f *Flux) ResampleTo(target geo.Grid) (*Flux, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	out := make([]float64, target.Width*target.Height)
	for row := 0; row < target.Height; row++ {
		for col := 0; col < target.Width; col++ {
			center := target.ToProjected(geo.Pixel{X: float64(col) + 0.5, Y: float64(row) + 0.5})
			if v, ok := f.Sample(center); ok {
				out[row*target.Width+col] = v
			} else {
				out[row*target.Width+col] = math.NaN()
			}
		}
	}

	return &Flux{Grid: target, Samples: out}, nil
}
