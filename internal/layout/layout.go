// Package layout models roof segments, candidate panel placements and the
// pixel geometry derived from them.
package layout

import (
	"math"
	"strings"

	"github.com/heliomap/heliomap/internal/geo"
)

// Orientation tells which way a panel's long side runs on the roof.
type Orientation string

const (
	// Portrait mounts the long side along the roof slope.
	Portrait Orientation = "portrait"
	// Landscape mounts the long side parallel to the ridge.
	Landscape Orientation = "landscape"
)

// Normalize maps provider and config spellings onto the two canonical
// values. Anything unrecognized becomes portrait.
func (o Orientation) Normalize() Orientation {
	if strings.EqualFold(strings.TrimSpace(string(o)), string(Landscape)) {
		return Landscape
	}
	return Portrait
}

// Dimensions is the physical module spec shared by all panels of a site.
// HeightMeters is the long side.
type Dimensions struct {
	WidthMeters   float64 `json:"widthMeters" yaml:"width"`
	HeightMeters  float64 `json:"heightMeters" yaml:"height"`
	CapacityWatts float64 `json:"capacityWatts" yaml:"watts"`
}

// HalfDiagonal returns half the module diagonal in meters.
func (d Dimensions) HalfDiagonal() float64 {
	return math.Hypot(d.HeightMeters, d.WidthMeters) / 2
}

// Segment is a planar roof facet: the compass direction it faces and its
// slope. Azimuth 0 is north, 90 east.
type Segment struct {
	AzimuthDegrees float64 `json:"azimuthDegrees" yaml:"azimuth"`
	PitchDegrees   float64 `json:"pitchDegrees" yaml:"pitch"`
}

// Panel is one candidate placement. Panels come ordered by descending
// expected yield, Index is the position in that order. SegmentIndex and
// AnnualKwh stay nil until upstream data fills them in; consumers must
// handle both being absent.
type Panel struct {
	Index        int         `json:"index" yaml:"-"`
	Center       geo.Point   `json:"center" yaml:"center"`
	Orientation  Orientation `json:"orientation" yaml:"orientation,omitempty"`
	SegmentIndex *int        `json:"segmentIndex,omitempty" yaml:"segment,omitempty"`
	AnnualKwh    *float64    `json:"annualKwh,omitempty" yaml:"-"`
}

// SegmentFor resolves the panel's roof segment from the site's segment
// list, nil when the reference is missing or out of range.
func (p Panel) SegmentFor(segments []Segment) *Segment {
	if p.SegmentIndex == nil {
		return nil
	}
	i := *p.SegmentIndex
	if i < 0 || i >= len(segments) {
		return nil
	}
	return &segments[i]
}
