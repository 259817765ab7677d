// Package solar talks to the solar data provider: building insights with
// the candidate panel layout, and the georeferenced imagery and flux
// layers around a site.
package solar

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heliomap/heliomap/internal/geo"
	"github.com/heliomap/heliomap/internal/layout"
	"github.com/heliomap/heliomap/internal/metrics"
	"github.com/heliomap/heliomap/internal/raster"
)

// ErrUnavailable marks provider failures the host can retry. The previous
// rendered state stays valid when a refresh fails with it.
var ErrUnavailable = errors.New("solar data unavailable")

// DataLayers is the provider's answer to a layer resolution request:
// where to fetch the imagery and flux payloads, and how they are
// georeferenced.
type DataLayers struct {
	ImageryURL string           `json:"rgbUrl"`
	FluxURL    string           `json:"annualFluxUrl"`
	EPSG       int              `json:"epsg"`
	Bounds     geo.Bounds       `json:"bounds"`
	FluxScale  raster.FluxScale `json:"fluxScale"`
}

// Insights is the provider's building analysis: the panel layout in
// priority order plus the module spec it was computed with.
type Insights struct {
	Center     geo.Point
	MaxPanels  int
	Dimensions layout.Dimensions
	Segments   []layout.Segment
	Panels     []layout.Panel
}

// Client reaches the solar data provider over HTTP. CacheDir enables a
// read-through payload cache on disk; Force re-downloads even when a
// cached copy exists.
type Client struct {
	BaseURL  string
	CacheDir string
	Force    bool

	apiKey     string
	httpClient *http.Client
}

// New creates a provider client. An empty API key sends unsigned
// requests, which local mock providers accept.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type insightsPayload struct {
	Name           string `json:"name"`
	Center         latLng `json:"center"`
	SolarPotential struct {
		MaxArrayPanelsCount int     `json:"maxArrayPanelsCount"`
		PanelCapacityWatts  float64 `json:"panelCapacityWatts"`
		PanelWidthMeters    float64 `json:"panelWidthMeters"`
		PanelHeightMeters   float64 `json:"panelHeightMeters"`
		RoofSegmentStats    []struct {
			AzimuthDegrees float64 `json:"azimuthDegrees"`
			PitchDegrees   float64 `json:"pitchDegrees"`
		} `json:"roofSegmentStats"`
		SolarPanels []struct {
			Center            latLng   `json:"center"`
			Orientation       string   `json:"orientation"`
			SegmentIndex      *int     `json:"segmentIndex"`
			YearlyEnergyDcKwh *float64 `json:"yearlyEnergyDcKwh"`
		} `json:"solarPanels"`
	} `json:"solarPotential"`
}

// BuildingInsights fetches the closest building analysis for a location.
func (c *Client) BuildingInsights(ctx context.Context, center geo.Point) (*Insights, error) {
	q := url.Values{}
	q.Set("location.latitude", strconv.FormatFloat(center.Latitude, 'f', 6, 64))
	q.Set("location.longitude", strconv.FormatFloat(center.Longitude, 'f', 6, 64))

	data, err := c.fetchPayload(ctx, c.BaseURL+"/v1/buildingInsights:findClosest?"+q.Encode(), "insights")
	if err != nil {
		return nil, err
	}

	var payload insightsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode buildingInsights: %w", err)
	}

	ins := &Insights{
		Center:    geo.Point{Latitude: payload.Center.Latitude, Longitude: payload.Center.Longitude},
		MaxPanels: payload.SolarPotential.MaxArrayPanelsCount,
		Dimensions: layout.Dimensions{
			WidthMeters:   payload.SolarPotential.PanelWidthMeters,
			HeightMeters:  payload.SolarPotential.PanelHeightMeters,
			CapacityWatts: payload.SolarPotential.PanelCapacityWatts,
		},
	}

	for _, s := range payload.SolarPotential.RoofSegmentStats {
		ins.Segments = append(ins.Segments, layout.Segment{
			AzimuthDegrees: s.AzimuthDegrees,
			PitchDegrees:   s.PitchDegrees,
		})
	}

	for i, p := range payload.SolarPotential.SolarPanels {
		panel := layout.Panel{
			Index:       i,
			Center:      geo.Point{Latitude: p.Center.Latitude, Longitude: p.Center.Longitude},
			Orientation: layout.Orientation(p.Orientation).Normalize(),
			AnnualKwh:   p.YearlyEnergyDcKwh,
		}
		if p.SegmentIndex != nil {
			idx := *p.SegmentIndex
			panel.SegmentIndex = &idx
		}
		ins.Panels = append(ins.Panels, panel)
	}

	if ins.MaxPanels == 0 {
		ins.MaxPanels = len(ins.Panels)
	}

	log.Debug().
		Int("panels", len(ins.Panels)).
		Int("segments", len(ins.Segments)).
		Msg("Building insights resolved")

	return ins, nil
}

// ResolveDataLayers asks the provider which imagery and flux payloads
// cover a circle around the center.
func (c *Client) ResolveDataLayers(ctx context.Context, center geo.Point, radiusMeters float64) (*DataLayers, error) {
	q := url.Values{}
	q.Set("location.latitude", strconv.FormatFloat(center.Latitude, 'f', 6, 64))
	q.Set("location.longitude", strconv.FormatFloat(center.Longitude, 'f', 6, 64))
	q.Set("radiusMeters", strconv.FormatFloat(radiusMeters, 'f', 0, 64))

	data, err := c.fetchPayload(ctx, c.BaseURL+"/v1/dataLayers:get?"+q.Encode(), "metadata")
	if err != nil {
		return nil, err
	}

	var layers DataLayers
	if err := json.Unmarshal(data, &layers); err != nil {
		return nil, fmt.Errorf("decode dataLayers: %w", err)
	}
	if layers.ImageryURL == "" || layers.FluxURL == "" {
		return nil, fmt.Errorf("%w: dataLayers response missing layer urls", ErrUnavailable)
	}
	if err := layers.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("dataLayers bounds: %w", err)
	}

	return &layers, nil
}

// FetchRaster downloads and georeferences an imagery payload.
func (c *Client) FetchRaster(ctx context.Context, rawURL string, bounds geo.Bounds) (*raster.Frame, error) {
	data, err := c.fetchPayload(ctx, rawURL, "imagery")
	if err != nil {
		return nil, err
	}

	img, format, err := raster.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("imagery payload: %w", err)
	}

	log.Debug().
		Str("format", format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("Imagery layer decoded")

	return raster.NewFrame(bounds, img)
}

// FetchFlux downloads a flux payload and scales it into physical units.
func (c *Client) FetchFlux(ctx context.Context, rawURL string, bounds geo.Bounds, scale raster.FluxScale) (*raster.Flux, error) {
	data, err := c.fetchPayload(ctx, rawURL, "flux")
	if err != nil {
		return nil, err
	}

	img, _, err := raster.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("flux payload: %w", err)
	}

	return raster.NewFlux(bounds, img, scale)
}

// FetchLayers resolves and downloads both layers for a viewport. The two
// payload fetches run in parallel; the first error wins.
func (c *Client) FetchLayers(ctx context.Context, center geo.Point, radiusMeters float64) (*raster.Frame, *raster.Flux, error) {
	layers, err := c.ResolveDataLayers(ctx, center, radiusMeters)
	if err != nil {
		return nil, nil, err
	}

	var (
		wg       sync.WaitGroup
		frame    *raster.Frame
		flux     *raster.Flux
		frameErr error
		fluxErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		frame, frameErr = c.FetchRaster(ctx, layers.ImageryURL, layers.Bounds)
	}()
	go func() {
		defer wg.Done()
		flux, fluxErr = c.FetchFlux(ctx, layers.FluxURL, layers.Bounds, layers.FluxScale)
	}()
	wg.Wait()

	if frameErr != nil {
		return nil, nil, frameErr
	}
	if fluxErr != nil {
		return nil, nil, fluxErr
	}
	return frame, flux, nil
}

// fetchPayload downloads bytes through the read-through disk cache. The
// cache key is the unsigned URL, so rotating the API key keeps the cache
// warm.
func (c *Client) fetchPayload(ctx context.Context, rawURL, layer string) ([]byte, error) {
	cachePath := c.cachePath(rawURL)

	if cachePath != "" && !c.Force {
		if data, err := os.ReadFile(cachePath); err == nil && len(data) > 0 {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			log.Trace().Str("layer", layer).Str("path", cachePath).Msg("Payload served from cache")
			return data, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.signURL(rawURL), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.LayerFetches.WithLabelValues(layer, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		metrics.LayerFetches.WithLabelValues(layer, "error").Inc()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.LayerFetches.WithLabelValues(layer, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	metrics.LayerFetches.WithLabelValues(layer, "ok").Inc()

	if cachePath != "" {
		if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
			log.Warn().Err(err).Msg("Failed to create cache dir")
		} else if err := os.WriteFile(cachePath, data, 0644); err != nil {
			log.Warn().Err(err).Str("path", cachePath).Msg("Failed to write cache file")
		}
	}

	return data, nil
}

func (c *Client) cachePath(rawURL string) string {
	if c.CacheDir == "" {
		return ""
	}
	return filepath.Join(c.CacheDir, fmt.Sprintf("%x.bin", sha1.Sum([]byte(rawURL))))
}

func (c *Client) signURL(raw string) string {
	if c.apiKey == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Get("key") == "" {
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
