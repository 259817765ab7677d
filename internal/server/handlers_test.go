package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/heliomap/heliomap/internal/config"
	"github.com/heliomap/heliomap/internal/geo"
	"github.com/heliomap/heliomap/internal/layout"
	"github.com/heliomap/heliomap/internal/raster"
	"github.com/heliomap/heliomap/internal/solar"
)

type fakeProvider struct {
	insightsFn func(ctx context.Context, center geo.Point) (*solar.Insights, error)
	layersFn   func(ctx context.Context, center geo.Point, radius float64) (*raster.Frame, *raster.Flux, error)
}

func (f *fakeProvider) BuildingInsights(ctx context.Context, center geo.Point) (*solar.Insights, error) {
	return f.insightsFn(ctx, center)
}

func (f *fakeProvider) FetchLayers(ctx context.Context, center geo.Point, radius float64) (*raster.Frame, *raster.Flux, error) {
	return f.layersFn(ctx, center, radius)
}

func siteCenter() geo.Point {
	return geo.Point{Latitude: 29.7506, Longitude: -95.4265}
}

func intp(v int) *int { return &v }

func testLayers(t *testing.T) (*raster.Frame, *raster.Flux) {
	t.Helper()

	center := siteCenter()
	proj, err := geo.NewProjector(center)
	if err != nil {
		t.Fatalf("projector: %v", err)
	}
	pc := proj.ToProjected(center)
	bounds := geo.Bounds{MinX: pc.X - 40, MinY: pc.Y - 40, MaxX: pc.X + 40, MaxY: pc.Y + 40}

	rgb := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			rgb.Set(x, y, color.RGBA{R: 60, G: 60, B: 60, A: 255})
		}
	}
	frame, err := raster.NewFrame(bounds, rgb)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}

	gray := image.NewGray16(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			gray.SetGray16(x, y, color.Gray16{Y: 32768})
		}
	}
	flux, err := raster.NewFlux(bounds, gray, raster.FluxScale{Min: 0, Max: 2000})
	if err != nil {
		t.Fatalf("flux: %v", err)
	}

	return frame, flux
}

func testInsights() *solar.Insights {
	center := siteCenter()
	seg := 0
	panels := make([]layout.Panel, 0, 3)
	for i := 0; i < 3; i++ {
		panels = append(panels, layout.Panel{
			Index:        i,
			Center:       geo.Point{Latitude: center.Latitude + float64(i)*0.00002, Longitude: center.Longitude},
			Orientation:  layout.Portrait,
			SegmentIndex: &seg,
		})
	}

	return &solar.Insights{
		Center:     center,
		MaxPanels:  3,
		Dimensions: layout.Dimensions{WidthMeters: 0.99, HeightMeters: 1.65, CapacityWatts: 400},
		Segments:   []layout.Segment{{AzimuthDegrees: 180, PitchDegrees: 20}},
		Panels:     panels,
	}
}

func testContext(t *testing.T) *ServerContext {
	t.Helper()

	provider := &fakeProvider{
		insightsFn: func(ctx context.Context, center geo.Point) (*solar.Insights, error) {
			return testInsights(), nil
		},
		layersFn: func(ctx context.Context, center geo.Point, radius float64) (*raster.Frame, *raster.Flux, error) {
			frame, flux := testLayers(t)
			return frame, flux, nil
		},
	}

	cfg := &config.Config{
		Sites: []config.Site{
			{Name: "casa", Aliases: []string{"home"}, Center: ptr(siteCenter()), StartCount: intp(2)},
			{Name: "nowhere"},
		},
	}

	return NewServerContext(cfg, provider)
}

func ptr(p geo.Point) *geo.Point { return &p }

func get(t *testing.T, s *ServerContext, path string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	s.HandleSites(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestNewServerContext_SkipsSitesWithoutCenter(t *testing.T) {
	s := testContext(t)

	if len(s.Config.Sites) != 1 {
		t.Fatalf("valid sites = %d, want 1", len(s.Config.Sites))
	}
	if _, ok := s.Resolve("nowhere"); ok {
		t.Error("center-less site should not resolve")
	}
	if _, ok := s.Resolve("casa"); !ok {
		t.Error("casa should resolve")
	}
	if _, ok := s.Resolve("home"); !ok {
		t.Error("alias home should resolve")
	}
}

func TestHandleSites_List(t *testing.T) {
	w := get(t, testContext(t), "/api/sites")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var got []siteSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(got) != 1 || got[0].Name != "casa" {
		t.Errorf("list = %+v", got)
	}
	if got[0].Ready {
		t.Error("casa should not be ready before any fetch")
	}
}

func TestHandleSites_UnknownSite(t *testing.T) {
	if w := get(t, testContext(t), "/api/sites/atlantis"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHandleSites_SummaryWithRefresh(t *testing.T) {
	s := testContext(t)

	w := get(t, s, "/api/sites/home?refresh=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var got siteSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if !got.Ready {
		t.Error("site should be ready after refresh")
	}
	if got.ActiveCount != 2 || got.MaxCount != 3 {
		t.Errorf("selection = %d/%d, want 2/3", got.ActiveCount, got.MaxCount)
	}
	if got.SystemKw != 0.8 {
		t.Errorf("systemKw = %v, want 0.8", got.SystemKw)
	}
	// Uniform flux puts every panel in the middle tier.
	if got.Tiers["medium"] != 3 {
		t.Errorf("tiers = %v, want 3 medium", got.Tiers)
	}
}

func TestHandleSites_Overlay(t *testing.T) {
	w := get(t, testContext(t), "/api/sites/casa/overlay")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("content type = %q", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, `"FeatureCollection"`) || !strings.Contains(body, `"Polygon"`) {
		t.Errorf("overlay body missing GeoJSON markers: %s", body)
	}

	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &fc); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Errorf("features = %d, want the 2 selected panels", len(fc.Features))
	}
}

func TestHandleSites_Composite(t *testing.T) {
	s := testContext(t)

	w := get(t, s, "/api/sites/casa/composite?count=3")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}

	img, format, err := raster.DecodeImage(w.Body.Bytes())
	if err != nil {
		t.Fatalf("composite not decodable: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 16 {
		t.Errorf("got %s %dpx, want 16px png", format, img.Bounds().Dx())
	}
}

func TestHandleSites_CompositeParams(t *testing.T) {
	s := testContext(t)

	if w := get(t, s, "/api/sites/casa/composite?count=abc"); w.Code != http.StatusBadRequest {
		t.Errorf("bad count: status = %d, want 400", w.Code)
	}
	if w := get(t, s, "/api/sites/casa/composite?format=gif"); w.Code != http.StatusBadRequest {
		t.Errorf("bad format: status = %d, want 400", w.Code)
	}
	if w := get(t, s, "/api/sites/casa/composite?scale=huge"); w.Code != http.StatusBadRequest {
		t.Errorf("bad scale: status = %d, want 400", w.Code)
	}

	w := get(t, s, "/api/sites/casa/composite?format=webp&scale=2")
	if w.Code != http.StatusOK {
		t.Fatalf("webp: status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/webp" {
		t.Errorf("content type = %q", ct)
	}
	img, format, err := raster.DecodeImage(w.Body.Bytes())
	if err != nil {
		t.Fatalf("webp composite not decodable: %v", err)
	}
	if format != "webp" || img.Bounds().Dx() != 32 {
		t.Errorf("got %s %dpx, want 32px webp", format, img.Bounds().Dx())
	}
}

func TestHandleSites_Selection(t *testing.T) {
	s := testContext(t)

	put := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/api/sites/casa/selection", bytes.NewReader([]byte(body)))
		s.HandleSites(w, req)
		return w
	}

	w := put(`{"count": 1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got siteSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if got.ActiveCount != 1 {
		t.Errorf("count = %d, want 1", got.ActiveCount)
	}

	if err := json.Unmarshal(put(`{"step": 1}`).Body.Bytes(), &got); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if got.ActiveCount != 2 {
		t.Errorf("after step: count = %d, want 2", got.ActiveCount)
	}

	if w := put(`{}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty body: status = %d, want 400", w.Code)
	}
	if w := put(`{"count": 99}`); w.Code != http.StatusOK {
		t.Errorf("overshoot should clamp, got %d", w.Code)
	} else {
		_ = json.Unmarshal(w.Body.Bytes(), &got)
		if got.ActiveCount != 3 {
			t.Errorf("clamped count = %d, want 3", got.ActiveCount)
		}
	}

	wGet := httptest.NewRecorder()
	s.HandleSites(wGet, httptest.NewRequest(http.MethodGet, "/api/sites/casa/selection", nil))
	if wGet.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET selection: status = %d, want 405", wGet.Code)
	}
}

func TestHandleSites_Location(t *testing.T) {
	s := testContext(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/sites/casa/location",
		strings.NewReader(`{"latitude": 29.7510, "longitude": -95.4270}`))
	s.HandleSites(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var got siteSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if got.Center == nil || got.Center.Latitude != 29.7510 {
		t.Errorf("center = %+v", got.Center)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/api/sites/casa/location",
		strings.NewReader(`{"latitude": 120, "longitude": 0}`))
	s.HandleSites(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("out-of-range location: status = %d, want 400", w.Code)
	}
}

func TestHandleSites_Refresh(t *testing.T) {
	s := testContext(t)

	w := httptest.NewRecorder()
	s.HandleSites(w, httptest.NewRequest(http.MethodPost, "/api/sites/casa/refresh", nil))
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}

	w = httptest.NewRecorder()
	s.HandleSites(w, httptest.NewRequest(http.MethodGet, "/api/sites/casa/refresh", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET refresh: status = %d, want 405", w.Code)
	}
}

func TestHandleSites_ProviderDown(t *testing.T) {
	provider := &fakeProvider{
		insightsFn: func(ctx context.Context, center geo.Point) (*solar.Insights, error) {
			return nil, solar.ErrUnavailable
		},
		layersFn: func(ctx context.Context, center geo.Point, radius float64) (*raster.Frame, *raster.Flux, error) {
			return nil, nil, solar.ErrUnavailable
		},
	}
	cfg := &config.Config{Sites: []config.Site{{Name: "casa", Center: ptr(siteCenter())}}}
	s := NewServerContext(cfg, provider)

	w := get(t, s, "/api/sites/casa/composite")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "error") || !strings.Contains(w.Body.String(), `"retryable":true`) {
		t.Errorf("error body missing fields: %s", w.Body.String())
	}
}

func TestHandleHealthz(t *testing.T) {
	s := testContext(t)

	w := httptest.NewRecorder()
	s.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var got struct {
		Status string `json:"status"`
		Sites  map[string]struct {
			Ready bool `json:"ready"`
		} `json:"sites"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if got.Status != "ok" {
		t.Errorf("status = %q", got.Status)
	}
	if _, ok := got.Sites["casa"]; !ok {
		t.Errorf("healthz missing casa: %s", w.Body.String())
	}
}

func TestHandleIndex(t *testing.T) {
	s := testContext(t)
	s.IndexHTML = []byte("<html>viewer</html>")

	w := httptest.NewRecorder()
	s.HandleIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no ETag")
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-None-Match", etag)
	s.HandleIndex(w, req)
	if w.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", w.Code)
	}

	w = httptest.NewRecorder()
	s.HandleIndex(w, httptest.NewRequest(http.MethodGet, "/some.file", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("dotted path status = %d, want 404", w.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/favicon.png", "/favicon.png"},
		{"/api/sites", "/api/sites"},
		{"/api/sites/casa", "/api/sites/{site}"},
		{"/api/sites/any-name-at-all", "/api/sites/{site}"},
		{"/api/sites/casa/composite", "/api/sites/{site}/composite"},
		{"/api/sites/casa/selection", "/api/sites/{site}/selection"},
		{"/random/junk", "/other"},
	}

	for _, tc := range tests {
		if got := normalizeRoute(tc.path); got != tc.want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
