package layout

import (
	"math"

	"github.com/heliomap/heliomap/internal/geo"
)

const (
	// MinRadius is the smallest useful viewing radius for a residential
	// roof in meters.
	MinRadius = 25.0
	// DefaultRadius applies when no location or no panels are known.
	DefaultRadius = 30.0
	// contextMargin adds surrounding ground beyond the outermost panel.
	contextMargin = 15.0
)

// ComputeRadius derives the geographic radius in meters a raster fetch must
// cover to show the whole panel set with context. The radius depends only
// on the panel set, compute it once per site load and reuse it, every
// change re-triggers a fetch.
func ComputeRadius(center *geo.Point, panels []Panel, dims Dimensions) float64 {
	if center == nil || len(panels) == 0 {
		return DefaultRadius
	}

	maxDist := 0.0
	for _, p := range panels {
		if d := geo.Distance(*center, p.Center); d > maxDist {
			maxDist = d
		}
	}

	radius := math.Ceil(maxDist + dims.HalfDiagonal() + contextMargin)
	if radius < MinRadius {
		radius = MinRadius
	}
	return radius
}
