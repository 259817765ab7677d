package geo

import "math"

// MetersPerDegree is the approximate length of one degree of latitude.
const MetersPerDegree = 111320.0

// Distance returns the planar distance between two geographic points in
// meters, using an equirectangular approximation. Longitude is scaled by
// the cosine of the latitude of a. Good enough for the sub-kilometer spans
// of a single rooftop site.
func Distance(a, b Point) float64 {
	dLat := (b.Latitude - a.Latitude) * MetersPerDegree
	dLon := (b.Longitude - a.Longitude) * MetersPerDegree *
		math.Cos(a.Latitude*math.Pi/180)
	return math.Hypot(dLat, dLon)
}
