package layout

import (
	"math"

	"github.com/heliomap/heliomap/internal/geo"
)

const (
	// CullMargin is how far outside the canvas a panel center may fall,
	// in pixels, before its polygon is skipped.
	CullMargin = 50.0
	// azimuthStep keeps neighboring panels on one segment visually
	// aligned by quantizing their rotation.
	azimuthStep = 5.0
)

// SnapAzimuth rounds a compass bearing to the nearest 5 degrees.
func SnapAzimuth(deg float64) float64 {
	return math.Round(deg/azimuthStep) * azimuthStep
}

// GeometryBuilder turns panel placements into four-corner pixel polygons
// for one raster grid. Build a fresh one per output resolution, the
// meters-per-pixel factor is baked into every polygon.
type GeometryBuilder struct {
	Projector *geo.Projector
	Grid      geo.Grid
	Dims      Dimensions
}

// BuildPolygon computes the corner pixels of one panel as seen from
// directly above, ordered clockwise from the upslope-left corner. The
// boolean is false when the panel cannot be placed: unusable grid, or a
// center culled for lying too far outside the canvas.
//
// A nil segment renders the panel flat and north-facing instead of
// failing; callers should treat those panels as low confidence.
func (b *GeometryBuilder) BuildPolygon(panel Panel, segment *Segment) ([4]geo.Pixel, bool) {
	var out [4]geo.Pixel

	center, err := b.Projector.GeoToPixel(panel.Center, b.Grid)
	if err != nil {
		return out, false
	}
	if !b.Grid.Contains(center, CullMargin) {
		return out, false
	}

	azimuth := 0.0
	pitch := 0.0
	if segment != nil {
		azimuth = SnapAzimuth(segment.AzimuthDegrees)
		pitch = segment.PitchDegrees
	}

	along := b.Dims.HeightMeters
	across := b.Dims.WidthMeters
	if panel.Orientation.Normalize() == Landscape {
		along, across = b.Dims.WidthMeters, b.Dims.HeightMeters
	}
	// The top-down view compresses the slope direction, the ridge
	// direction keeps its length.
	along *= math.Cos(pitch * math.Pi / 180)

	mpp := b.Grid.MetersPerPixel()
	hx := across / 2 / mpp
	hy := along / 2 / mpp

	sin, cos := math.Sincos(azimuth * math.Pi / 180)

	// Slope axis on Y before rotation. Pixel Y grows downward, so this
	// matrix turns compass bearings clockwise on screen: north up, east
	// right.
	corners := [4][2]float64{{-hx, -hy}, {hx, -hy}, {hx, hy}, {-hx, hy}}
	for i, c := range corners {
		out[i] = geo.Pixel{
			X: center.X + c[0]*cos - c[1]*sin,
			Y: center.Y + c[0]*sin + c[1]*cos,
		}
	}
	return out, true
}
