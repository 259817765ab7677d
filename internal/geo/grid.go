package geo

import "fmt"

// Bounds is a projected extent in meters. MinX/MinY is the south-west
// corner, MaxX/MaxY the north-east corner.
type Bounds struct {
	MinX float64 `json:"minX" yaml:"min_x"`
	MinY float64 `json:"minY" yaml:"min_y"`
	MaxX float64 `json:"maxX" yaml:"max_x"`
	MaxY float64 `json:"maxY" yaml:"max_y"`
}

// Width returns the east-west extent in meters.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the north-south extent in meters.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Validate rejects extents with zero or negative size.
func (b Bounds) Validate() error {
	if b.Width() <= 0 || b.Height() <= 0 {
		return fmt.Errorf("%w: %.3fx%.3f m", ErrDegenerateBounds, b.Width(), b.Height())
	}
	return nil
}

// Grid ties a projected extent to a pixel raster of Width x Height pixels.
// Pixel (0,0) is the north-west corner, Y grows south.
type Grid struct {
	Bounds Bounds `json:"bounds" yaml:"bounds"`
	Width  int    `json:"width" yaml:"width"`
	Height int    `json:"height" yaml:"height"`
}

// Validate rejects grids with degenerate bounds or non-positive pixel size.
func (g Grid) Validate() error {
	if err := g.Bounds.Validate(); err != nil {
		return err
	}
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: %dx%d px", ErrDegenerateBounds, g.Width, g.Height)
	}
	return nil
}

// ToPixel maps projected meters onto the grid. North of the extent maps to
// negative Y, coordinates outside the extent are extrapolated linearly.
// The grid must have passed Validate.
func (g Grid) ToPixel(p Projected) Pixel {
	return Pixel{
		X: (p.X - g.Bounds.MinX) / g.Bounds.Width() * float64(g.Width),
		Y: (g.Bounds.MaxY - p.Y) / g.Bounds.Height() * float64(g.Height),
	}
}

// ToProjected is the inverse of ToPixel.
func (g Grid) ToProjected(px Pixel) Projected {
	return Projected{
		X: g.Bounds.MinX + px.X/float64(g.Width)*g.Bounds.Width(),
		Y: g.Bounds.MaxY - px.Y/float64(g.Height)*g.Bounds.Height(),
	}
}

// MetersPerPixel returns the mean ground resolution across both axes.
func (g Grid) MetersPerPixel() float64 {
	rx := g.Bounds.Width() / float64(g.Width)
	ry := g.Bounds.Height() / float64(g.Height)
	return (rx + ry) / 2
}

// Contains reports whether a pixel lies inside the raster, extended by
// margin pixels on every side.
func (g Grid) Contains(px Pixel, margin float64) bool {
	return px.X >= -margin && px.X <= float64(g.Width)+margin &&
		px.Y >= -margin && px.Y <= float64(g.Height)+margin
}

// Scaled returns a grid over the same extent with pixel dimensions
// multiplied by factor.
func (g Grid) Scaled(factor float64) Grid {
	return Grid{
		Bounds: g.Bounds,
		Width:  int(float64(g.Width)*factor + 0.5),
		Height: int(float64(g.Height)*factor + 0.5),
	}
}
