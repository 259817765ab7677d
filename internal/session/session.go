// Package session owns the mutable state of one site: its raster layers,
// panel production, classification and the active selection.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heliomap/heliomap/internal/geo"
	"github.com/heliomap/heliomap/internal/layout"
	"github.com/heliomap/heliomap/internal/overlay"
	"github.com/heliomap/heliomap/internal/raster"
	"github.com/heliomap/heliomap/internal/solar"
)

var (
	// ErrNoLocation marks a site without a geographic center. Rendering
	// for such a site is a no-op, fetching is an error.
	ErrNoLocation = errors.New("no location for site")
	// ErrNotReady marks a site whose layers have never been fetched.
	ErrNotReady = errors.New("no layers fetched yet")
)

// debounceDelay coalesces bursts of refresh requests into one fetch.
const debounceDelay = 250 * time.Millisecond

// Provider is the slice of the solar client a session needs.
type Provider interface {
	BuildingInsights(ctx context.Context, center geo.Point) (*solar.Insights, error)
	FetchLayers(ctx context.Context, center geo.Point, radiusMeters float64) (*raster.Frame, *raster.Flux, error)
}

// Config seeds a session. Panels and Segments may be empty, in which case
// the first Refresh pulls the layout from the provider's building
// insights.
type Config struct {
	Name       string
	Location   *geo.Point
	Panels     []layout.Panel
	Segments   []layout.Segment
	Dims       layout.Dimensions
	MaxPanels  int  // 0 means len(Panels)
	StartCount *int // nil starts at the 80% default
}

// Session is safe for concurrent use. Layers are replaced whole on
// refresh, never mutated, so snapshots handed out under the lock stay
// valid after it is released.
type Session struct {
	name     string
	provider Provider

	mu         sync.Mutex
	location   *geo.Point
	projector  *geo.Projector
	dims       layout.Dimensions
	panels     []layout.Panel
	segments   []layout.Segment
	maxPanels  int
	startCount *int
	selection  *layout.Selection
	radius     float64
	frame      *raster.Frame
	flux       *raster.Flux
	tiers      map[int]layout.Tier
	lastErr    error
	cancel     context.CancelFunc
	debounce   *time.Timer

	gen atomic.Uint64
}

// New builds a session. The projected zone is fixed here from the site
// center and reused for every coordinate of the session.
func New(cfg Config, provider Provider) (*Session, error) {
	s := &Session{
		name:       cfg.Name,
		provider:   provider,
		location:   cfg.Location,
		dims:       cfg.Dims,
		startCount: cfg.StartCount,
	}

	if cfg.Location != nil {
		proj, err := geo.NewProjector(*cfg.Location)
		if err != nil {
			return nil, err
		}
		s.projector = proj
	}

	if len(cfg.Panels) > 0 {
		if err := s.adoptLayout(cfg.Panels, cfg.Segments, cfg.Dims, cfg.MaxPanels); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// adoptLayout installs a panel set: merges module dimensions, derives the
// fetch radius and initializes the selection exactly once. Callers hold
// the lock or have not shared the session yet.
func (s *Session) adoptLayout(panels []layout.Panel, segments []layout.Segment, dims layout.Dimensions, maxPanels int) error {
	s.panels = panels
	s.segments = segments

	if dims.WidthMeters > 0 {
		s.dims.WidthMeters = dims.WidthMeters
	}
	if dims.HeightMeters > 0 {
		s.dims.HeightMeters = dims.HeightMeters
	}
	if dims.CapacityWatts > 0 {
		s.dims.CapacityWatts = dims.CapacityWatts
	}

	if maxPanels <= 0 {
		maxPanels = len(panels)
	}
	s.maxPanels = maxPanels
	s.radius = layout.ComputeRadius(s.location, panels, s.dims)

	if s.selection == nil {
		sel, err := layout.NewSelection(maxPanels, s.dims.CapacityWatts, s.startCount)
		if err != nil {
			return err
		}
		s.selection = sel
	}
	return nil
}

// Name returns the site name.
func (s *Session) Name() string { return s.name }

// Ready reports whether layers have been fetched at least once.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame != nil
}

// Err returns the failure of the last refresh, nil when healthy. A
// non-nil error with Ready() still true means the previous layers are
// still on screen and a retry is worthwhile.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Location returns a copy of the site center, nil when unknown.
func (s *Session) Location() *geo.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location == nil {
		return nil
	}
	loc := *s.location
	return &loc
}

// SetLocation moves the fetch center. The projected zone stays pinned to
// the first location the session ever saw, so a center drifting across a
// zone boundary keeps one consistent frame of reference. Callers follow
// up with RequestRefresh to pull layers for the new center.
func (s *Session) SetLocation(pt geo.Point) error {
	if !pt.Valid() {
		return geo.ErrInvalidCoordinate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.projector == nil {
		proj, err := geo.NewProjector(pt)
		if err != nil {
			return err
		}
		s.projector = proj
	}
	s.location = &pt
	return nil
}

// Radius returns the viewport fetch radius in meters.
func (s *Session) Radius() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.radius
}

// Frame returns the current raster frame, nil before the first fetch.
func (s *Session) Frame() *raster.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Panels returns a snapshot of the panel set with production filled in as
// far as it is known.
func (s *Session) Panels() []layout.Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]layout.Panel, len(s.panels))
	copy(out, s.panels)
	return out
}

// Segments returns a snapshot of the roof segments.
func (s *Session) Segments() []layout.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]layout.Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Tiers returns a snapshot of the current classification.
func (s *Session) Tiers() map[int]layout.Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]layout.Tier, len(s.tiers))
	for k, v := range s.tiers {
		out[k] = v
	}
	return out
}

// Selection returns the active count, the maximum and the system size in
// kilowatts. Zeros before a panel set is loaded.
func (s *Session) Selection() (count, max int, systemKw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return 0, 0, 0
	}
	return s.selection.Count(), s.selection.Max(), s.selection.SystemKw()
}

// OnSelectionChange registers the host callback. It fires immediately
// with the current state and then on every change. No-op before a panel
// set is loaded.
func (s *Session) OnSelectionChange(fn func(count int, systemKw float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return
	}
	s.selection.OnChange(fn)
}

// SetCount moves the selection, silently clamped into range.
func (s *Session) SetCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return
	}
	s.selection.SetCount(n)
}

// Increment grows the selection by one panel.
func (s *Session) Increment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return
	}
	s.selection.Increment()
}

// Decrement shrinks the selection by one panel.
func (s *Session) Decrement() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return
	}
	s.selection.Decrement()
}

// Refresh fetches the layers for the current viewport and recomputes
// production and classification. A refresh superseded while in flight is
// discarded whole, it never merges into newer state. A failed refresh
// records the error and keeps the previous layers rendered.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.location == nil {
		s.mu.Unlock()
		return ErrNoLocation
	}
	center := *s.location
	radius := s.radius
	needLayout := len(s.panels) == 0

	gen := s.gen.Add(1)
	if s.cancel != nil {
		s.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if needLayout {
		ins, err := s.provider.BuildingInsights(fetchCtx, center)
		if gen != s.gen.Load() {
			return nil
		}
		if err != nil {
			s.recordErr(err)
			return err
		}

		s.mu.Lock()
		if gen == s.gen.Load() {
			if err := s.adoptLayout(ins.Panels, ins.Segments, ins.Dimensions, ins.MaxPanels); err != nil {
				s.lastErr = err
				s.mu.Unlock()
				return err
			}
			radius = s.radius
		}
		s.mu.Unlock()
	}

	frame, flux, err := s.provider.FetchLayers(fetchCtx, center, radius)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen.Load() {
		log.Debug().Str("site", s.name).Msg("Discarding superseded layer fetch")
		return nil
	}
	if err != nil {
		s.lastErr = err
		return err
	}

	s.frame = frame
	s.flux = flux
	s.lastErr = nil
	s.panels = solar.ComputeProduction(s.panels, flux, s.dims, s.projector.ToProjected)
	s.tiers = layout.Classify(s.panels)

	log.Info().
		Str("site", s.name).
		Float64("radius", radius).
		Int("panels", len(s.panels)).
		Msg("Layers refreshed")

	return nil
}

// RequestRefresh schedules a refresh after a short quiet period so that
// bursts of radius-affecting changes collapse into one provider fetch.
// The context must outlive the debounce delay.
func (s *Session) RequestRefresh(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(debounceDelay, func() {
		if err := s.Refresh(ctx); err != nil {
			log.Warn().Err(err).Str("site", s.name).Msg("Deferred refresh failed")
		}
	})
}

// EnsureReady fetches the layers on first use. Cheap once loaded; after a
// failure every call retries.
func (s *Session) EnsureReady(ctx context.Context) error {
	if s.Ready() {
		return nil
	}
	return s.Refresh(ctx)
}

func (s *Session) recordErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// buildOverlayLocked assembles the overlay for count active panels, or
// the current selection when count is nil.
func (s *Session) buildOverlayLocked(countOverride *int) overlay.Overlay {
	count := 0
	if s.selection != nil {
		count = s.selection.Count()
	}
	if countOverride != nil {
		count = *countOverride
		if count < 1 {
			count = 1
		}
		if count > s.maxPanels {
			count = s.maxPanels
		}
	}
	return overlay.Build(s.projector, s.frame.Grid, s.dims, s.panels, s.segments, s.tiers, count)
}

// Overlay returns the drawable polygons for the current or overridden
// selection. A site without a location or without layers renders nothing
// rather than failing.
func (s *Session) Overlay(countOverride *int) (overlay.Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location == nil || s.frame == nil {
		return overlay.Overlay{}, nil
	}
	return s.buildOverlayLocked(countOverride), nil
}

// ExportComposite renders the current raster plus overlay into image
// bytes. Before the first successful fetch it fails with the last fetch
// error, or ErrNotReady when none was attempted.
func (s *Session) ExportComposite(countOverride *int, opts overlay.CompositeOptions) ([]byte, error) {
	s.mu.Lock()
	if s.frame == nil {
		err := s.lastErr
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrNotReady
	}
	frame := s.frame
	ov := s.buildOverlayLocked(countOverride)
	s.mu.Unlock()

	return overlay.Composite(frame, ov, opts)
}
