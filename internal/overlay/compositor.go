package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"

	"github.com/chai2010/webp"
	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/heliomap/heliomap/internal/metrics"
	"github.com/heliomap/heliomap/internal/raster"
)

// ErrNoFrame is returned when there is no raster backdrop to draw on.
var ErrNoFrame = errors.New("no raster frame")

// Composite output formats.
const (
	FormatPNG  = "png"
	FormatWebP = "webp"
)

const defaultWebPQuality = 90

// CompositeOptions controls the exported image.
type CompositeOptions struct {
	// Scale multiplies the output resolution, e.g. 2 for a 2x export.
	// Zero means native resolution. Clamped into [0.25, 8].
	Scale float64
	// Format is png or webp, png when empty.
	Format string
	// Quality applies to webp only, 90 when zero.
	Quality float32
}

func (o CompositeOptions) scale() float64 {
	s := o.Scale
	if s <= 0 {
		s = 1
	}
	return math.Min(math.Max(s, 0.25), 8)
}

// Composite draws the raster backdrop at the requested resolution, paints
// every overlay polygon filled with its tier color plus a thin border,
// and encodes the result. The overlay must have been built against
// frame.Grid at native resolution; corner coordinates are scaled here.
// Identical inputs produce identical bytes.
func Composite(frame *raster.Frame, ov Overlay, opts CompositeOptions) ([]byte, error) {
	if frame == nil || frame.Image == nil {
		return nil, ErrNoFrame
	}

	scale := opts.scale()
	grid := frame.Grid.Scaled(scale)
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	dst := image.NewRGBA(image.Rect(0, 0, grid.Width, grid.Height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), frame.Image, frame.Image.Bounds(), draw.Over, nil)

	dc := gg.NewContextForRGBA(dst)
	dc.SetLineWidth(math.Max(1, 1.5*scale))

	for _, poly := range ov.Polygons {
		dc.NewSubPath()
		dc.MoveTo(poly.Corners[0].X*scale, poly.Corners[0].Y*scale)
		for _, c := range poly.Corners[1:] {
			dc.LineTo(c.X*scale, c.Y*scale)
		}
		dc.ClosePath()

		fill := fillColor(poly.Tier)
		dc.SetRGBA255(int(fill.R), int(fill.G), int(fill.B), int(fill.A))
		dc.FillPreserve()

		border := borderColor(poly.Tier)
		dc.SetRGBA255(int(border.R), int(border.G), int(border.B), int(border.A))
		dc.Stroke()
	}

	return Encode(dc.Image(), opts)
}

// Encode serializes an image in the requested composite format.
func Encode(img image.Image, opts CompositeOptions) ([]byte, error) {
	var buf bytes.Buffer

	switch opts.Format {
	case "", FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		metrics.Composites.WithLabelValues(FormatPNG).Inc()
	case FormatWebP:
		quality := opts.Quality
		if quality <= 0 {
			quality = defaultWebPQuality
		}
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: quality}); err != nil {
			return nil, err
		}
		metrics.Composites.WithLabelValues(FormatWebP).Inc()
	default:
		return nil, fmt.Errorf("unsupported format %q", opts.Format)
	}

	return buf.Bytes(), nil
}
