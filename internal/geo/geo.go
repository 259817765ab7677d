// Package geo handles geographic data structures and coordinate conversions.
package geo

import (
	"errors"
	"fmt"

	"github.com/wroge/wgs84"
)

var (
	// ErrDegenerateBounds is returned when a georeferenced extent has zero
	// or negative width or height and no pixel mapping can be derived.
	ErrDegenerateBounds = errors.New("degenerate bounds")
	// ErrInvalidCoordinate is returned for latitudes or longitudes outside
	// the WGS84 domain.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// Point is a geographic WGS84 coordinate.
type Point struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Valid reports whether the point lies inside the WGS84 domain.
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// Projected is a planar coordinate in meters within a UTM zone.
// X grows east, Y grows north.
type Projected struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pixel is a raster coordinate. X grows right, Y grows down.
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UTMZone returns the UTM zone number (1..60) for a longitude.
func UTMZone(longitude float64) int {
	zone := int((longitude+180)/6) + 1
	if zone < 1 {
		zone = 1
	} else if zone > 60 {
		// Longitude 180 falls back into the last zone.
		zone = 60
	}
	return zone
}

// Projector converts between geographic WGS84 coordinates and planar UTM
// meters. The zone is fixed at construction from a reference point; all
// geometry for one site must go through the same Projector so that distances
// and pixel offsets stay consistent.
type Projector struct {
	zone     int
	northern bool
	epsg     int
	forward  wgs84.Func
	inverse  wgs84.Func
}

// NewProjector picks the UTM zone and hemisphere for the reference point and
// prepares forward and inverse transformations.
func NewProjector(reference Point) (*Projector, error) {
	if !reference.Valid() {
		return nil, fmt.Errorf("%w: lat=%.6f lon=%.6f",
			ErrInvalidCoordinate, reference.Latitude, reference.Longitude)
	}

	zone := UTMZone(reference.Longitude)
	northern := reference.Latitude >= 0

	code := 32600 + zone
	if !northern {
		code = 32700 + zone
	}

	epsg := wgs84.EPSG()

	return &Projector{
		zone:     zone,
		northern: northern,
		epsg:     code,
		forward:  epsg.Transform(4326, code),
		inverse:  epsg.Transform(code, 4326),
	}, nil
}

// Zone returns the UTM zone number fixed at construction.
func (p *Projector) Zone() int { return p.zone }

// Northern reports whether the projector uses the northern hemisphere zone.
func (p *Projector) Northern() bool { return p.northern }

// EPSG returns the EPSG code of the projected coordinate system.
func (p *Projector) EPSG() int { return p.epsg }

// ToProjected converts a geographic point to UTM meters.
func (p *Projector) ToProjected(pt Point) Projected {
	x, y, _ := p.forward(pt.Longitude, pt.Latitude, 0)
	return Projected{X: x, Y: y}
}

// ToGeographic converts UTM meters back to a geographic point.
func (p *Projector) ToGeographic(pr Projected) Point {
	lon, lat, _ := p.inverse(pr.X, pr.Y, 0)
	return Point{Latitude: lat, Longitude: lon}
}

// GeoToPixel maps a geographic point onto a raster grid.
func (p *Projector) GeoToPixel(pt Point, g Grid) (Pixel, error) {
	if err := g.Validate(); err != nil {
		return Pixel{}, err
	}
	return g.ToPixel(p.ToProjected(pt)), nil
}

// PixelToGeo maps a raster coordinate back to a geographic point.
func (p *Projector) PixelToGeo(px Pixel, g Grid) (Point, error) {
	if err := g.Validate(); err != nil {
		return Point{}, err
	}
	return p.ToGeographic(g.ToProjected(px)), nil
}
