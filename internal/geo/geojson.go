package geo

import (
	"fmt"

	"github.com/peterstace/simplefeatures/geom"
)

// FeatureCollection represents a collection of geographic features.
// It follows the standard GeoJSON structure.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature represents a single geographic feature with geometry and properties.
type Feature struct {
	Properties map[string]interface{} `json:"properties"`
	Type       string                 `json:"type"`
	Geometry   geom.Geometry          `json:"geometry"`
}

// NewFeatureCollection wraps features into a collection with the
// required type markers set.
func NewFeatureCollection(features []Feature) FeatureCollection {
	for i := range features {
		features[i].Type = "Feature"
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// PointGeometry builds a GeoJSON point geometry in lon/lat order.
func PointGeometry(p Point) geom.Geometry {
	pt := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: p.Longitude, Y: p.Latitude}})
	return pt.AsGeometry()
}

// RingGeometry builds a closed GeoJSON polygon from corner points given in
// order. The ring is closed automatically.
func RingGeometry(corners []Point) (geom.Geometry, error) {
	if len(corners) < 3 {
		return geom.Geometry{}, fmt.Errorf("polygon needs at least 3 corners, got %d", len(corners))
	}

	flat := make([]float64, 0, 2*(len(corners)+1))
	for _, c := range corners {
		flat = append(flat, c.Longitude, c.Latitude)
	}
	flat = append(flat, corners[0].Longitude, corners[0].Latitude)

	ring := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	poly := geom.NewPolygon([]geom.LineString{ring})
	return poly.AsGeometry(), nil
}
