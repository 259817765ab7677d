package raster

import (
	"image"

	"github.com/heliomap/heliomap/internal/geo"
)

// Frame is a decoded raster image tied to its projected extent.
type Frame struct {
	Grid  geo.Grid
	Image image.Image
}

// NewFrame georeferences a decoded image. Pixel dimensions come from the
// image itself, only the extent comes from provider metadata.
func NewFrame(bounds geo.Bounds, img image.Image) (*Frame, error) {
	grid := geo.Grid{
		Bounds: bounds,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	return &Frame{Grid: grid, Image: img}, nil
}
