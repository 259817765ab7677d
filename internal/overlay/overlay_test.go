package overlay

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"testing"

	"github.com/heliomap/heliomap/internal/geo"
	"github.com/heliomap/heliomap/internal/layout"
	"github.com/heliomap/heliomap/internal/raster"
)

func siteCenter() geo.Point {
	return geo.Point{Latitude: 29.7506, Longitude: -95.4265}
}

func siteDims() layout.Dimensions {
	return layout.Dimensions{WidthMeters: 0.99, HeightMeters: 1.65, CapacityWatts: 400}
}

// siteScene builds a projector, a 200x200 px grid over 100x100 m and a
// uniform dark backdrop frame centered on the site.
func siteScene(t *testing.T) (*geo.Projector, *raster.Frame) {
	t.Helper()

	proj, err := geo.NewProjector(siteCenter())
	if err != nil {
		t.Fatalf("NewProjector failed: %v", err)
	}
	pc := proj.ToProjected(siteCenter())
	bounds := geo.Bounds{MinX: pc.X - 50, MinY: pc.Y - 50, MaxX: pc.X + 50, MaxY: pc.Y + 50}

	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.NRGBA{R: 40, G: 40, B: 40, A: 255}), image.Point{}, draw.Src)

	frame, err := raster.NewFrame(bounds, img)
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	return proj, frame
}

func sitePanels(n int) []layout.Panel {
	seg := 0
	panels := make([]layout.Panel, n)
	for i := range panels {
		kwh := 300 + float64(i)*50
		panels[i] = layout.Panel{
			Index:        i,
			Center:       geo.Point{Latitude: 29.7506 + float64(i)*0.00002, Longitude: -95.4265},
			Orientation:  layout.Landscape,
			SegmentIndex: &seg,
			AnnualKwh:    &kwh,
		}
	}
	return panels
}

func siteSegments() []layout.Segment {
	return []layout.Segment{{AzimuthDegrees: 180, PitchDegrees: 20}}
}

func TestBuild_GatesBySelection(t *testing.T) {
	proj, frame := siteScene(t)
	panels := sitePanels(5)
	tiers := layout.Classify(panels)

	ov := Build(proj, frame.Grid, siteDims(), panels, siteSegments(), tiers, 3)

	if len(ov.Polygons) != 3 {
		t.Fatalf("polygons = %d, want 3", len(ov.Polygons))
	}
	for i, p := range ov.Polygons {
		if p.Index != i {
			t.Errorf("polygon %d carries index %d, priority order broken", i, p.Index)
		}
	}
	if ov.ActiveCount != 3 {
		t.Errorf("ActiveCount = %d, want 3", ov.ActiveCount)
	}
	if ov.SystemKw != 1.2 {
		t.Errorf("SystemKw = %f, want 1.2", ov.SystemKw)
	}
}

func TestBuild_ClampsActiveCount(t *testing.T) {
	proj, frame := siteScene(t)
	panels := sitePanels(2)

	ov := Build(proj, frame.Grid, siteDims(), panels, siteSegments(), layout.Classify(panels), 99)
	if len(ov.Polygons) != 2 {
		t.Errorf("polygons = %d, want 2", len(ov.Polygons))
	}

	ov = Build(proj, frame.Grid, siteDims(), panels, siteSegments(), layout.Classify(panels), -1)
	if len(ov.Polygons) != 0 {
		t.Errorf("polygons = %d, want 0 for negative count", len(ov.Polygons))
	}
}

func TestBuild_SkipsCulledKeepsRest(t *testing.T) {
	proj, frame := siteScene(t)
	panels := sitePanels(3)
	// Move the middle panel a kilometer away.
	panels[1].Center = geo.Point{Latitude: 29.7596, Longitude: -95.4265}

	ov := Build(proj, frame.Grid, siteDims(), panels, siteSegments(), layout.Classify(panels), 3)

	if len(ov.Polygons) != 2 {
		t.Fatalf("polygons = %d, want 2 after culling", len(ov.Polygons))
	}
	if ov.Polygons[0].Index != 0 || ov.Polygons[1].Index != 2 {
		t.Errorf("kept indices %d and %d, want 0 and 2", ov.Polygons[0].Index, ov.Polygons[1].Index)
	}
}

func TestBuild_FlagsMissingSegment(t *testing.T) {
	proj, frame := siteScene(t)
	panels := sitePanels(2)
	panels[1].SegmentIndex = nil

	ov := Build(proj, frame.Grid, siteDims(), panels, siteSegments(), layout.Classify(panels), 2)

	if ov.Polygons[0].LowConfidence {
		t.Error("panel with a segment flagged low confidence")
	}
	if !ov.Polygons[1].LowConfidence {
		t.Error("panel without a segment should be low confidence")
	}
}

func TestBuild_GeoCornersNearCenter(t *testing.T) {
	proj, frame := siteScene(t)
	panels := sitePanels(1)

	ov := Build(proj, frame.Grid, siteDims(), panels, siteSegments(), layout.Classify(panels), 1)
	if len(ov.Polygons) != 1 {
		t.Fatal("expected one polygon")
	}

	for _, c := range ov.Polygons[0].GeoCorners {
		if geo.Distance(panels[0].Center, c) > 2 {
			t.Errorf("geographic corner %+v more than 2 m from the panel center", c)
		}
	}
}

func TestOverlay_FeatureCollection(t *testing.T) {
	proj, frame := siteScene(t)
	panels := sitePanels(3)
	panels[2].SegmentIndex = nil

	ov := Build(proj, frame.Grid, siteDims(), panels, siteSegments(), layout.Classify(panels), 3)
	fc := ov.FeatureCollection()

	if len(fc.Features) != 3 {
		t.Fatalf("features = %d, want 3", len(fc.Features))
	}

	data, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, want := range []string{`"FeatureCollection"`, `"Polygon"`, `"tier"`, `"annualKwh"`, `"lowConfidence":true`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("feature collection missing %s", want)
		}
	}
}

func TestComposite_Deterministic(t *testing.T) {
	proj, frame := siteScene(t)
	panels := sitePanels(4)
	ov := Build(proj, frame.Grid, siteDims(), panels, siteSegments(), layout.Classify(panels), 4)

	a, err := Composite(frame, ov, CompositeOptions{})
	if err != nil {
		t.Fatalf("composite failed: %v", err)
	}
	b, err := Composite(frame, ov, CompositeOptions{})
	if err != nil {
		t.Fatalf("composite failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical inputs produced different bytes")
	}
}

func TestComposite_ScaleDoublesOutput(t *testing.T) {
	proj, frame := siteScene(t)
	ov := Build(proj, frame.Grid, siteDims(), nil, nil, nil, 0)

	data, err := Composite(frame, ov, CompositeOptions{Scale: 2})
	if err != nil {
		t.Fatalf("composite failed: %v", err)
	}

	img, format, err := raster.DecodeImage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
	if img.Bounds().Dx() != 400 || img.Bounds().Dy() != 400 {
		t.Errorf("output = %dx%d, want 400x400", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestComposite_PaintsPanels(t *testing.T) {
	proj, frame := siteScene(t)
	panels := sitePanels(1)
	ov := Build(proj, frame.Grid, siteDims(), panels, siteSegments(), layout.Classify(panels), 1)

	data, err := Composite(frame, ov, CompositeOptions{})
	if err != nil {
		t.Fatalf("composite failed: %v", err)
	}
	img, _, err := raster.DecodeImage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	// The single panel classifies medium, so its center pixel leans
	// yellow against the dark gray backdrop.
	cx := int(ov.Polygons[0].Corners[0].X+ov.Polygons[0].Corners[2].X) / 2
	cy := int(ov.Polygons[0].Corners[0].Y+ov.Polygons[0].Corners[2].Y) / 2
	r, g, _, _ := img.At(cx, cy).RGBA()
	br, bg, _, _ := img.At(5, 5).RGBA()
	if r <= br || g <= bg {
		t.Errorf("panel pixel (%d,%d) not painted over the backdrop", cx, cy)
	}
}

func TestComposite_WebP(t *testing.T) {
	proj, frame := siteScene(t)
	panels := sitePanels(2)
	ov := Build(proj, frame.Grid, siteDims(), panels, siteSegments(), layout.Classify(panels), 2)

	data, err := Composite(frame, ov, CompositeOptions{Format: FormatWebP})
	if err != nil {
		t.Fatalf("composite failed: %v", err)
	}

	_, format, err := raster.DecodeImage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if format != "webp" {
		t.Errorf("format = %q, want webp", format)
	}
}

func TestComposite_NoFrame(t *testing.T) {
	if _, err := Composite(nil, Overlay{}, CompositeOptions{}); !errors.Is(err, ErrNoFrame) {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
}

func TestEncode_UnsupportedFormat(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if _, err := Encode(img, CompositeOptions{Format: "gif"}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestTierColor(t *testing.T) {
	if TierColor(layout.TierHigh) == TierColor(layout.TierLow) {
		t.Error("high and low tiers must differ")
	}
	if TierColor(layout.Tier(99)) != TierColor(layout.TierUnknown) {
		t.Error("unrecognized tier should fall back to unknown")
	}
}
