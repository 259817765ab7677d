// Package server handles HTTP requests and middleware.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/heliomap/heliomap/internal/geo"
	"github.com/heliomap/heliomap/internal/overlay"
	"github.com/heliomap/heliomap/internal/session"
	"github.com/heliomap/heliomap/internal/solar"
)

var startTime = time.Now()

// siteSummary is the JSON shape of a site in list and detail responses.
type siteSummary struct {
	Name        string         `json:"name"`
	Center      *geo.Point     `json:"center,omitempty"`
	Ready       bool           `json:"ready"`
	Error       string         `json:"error,omitempty"`
	Radius      float64        `json:"radiusMeters,omitempty"`
	ActiveCount int            `json:"activeCount"`
	MaxCount    int            `json:"maxCount"`
	SystemKw    float64        `json:"systemKw"`
	Tiers       map[string]int `json:"tiers,omitempty"`
}

func summarize(sess *session.Session) siteSummary {
	count, max, kw := sess.Selection()
	sum := siteSummary{
		Name:        sess.Name(),
		Center:      sess.Location(),
		Ready:       sess.Ready(),
		Radius:      sess.Radius(),
		ActiveCount: count,
		MaxCount:    max,
		SystemKw:    kw,
	}
	if tiers := sess.Tiers(); len(tiers) > 0 {
		sum.Tiers = make(map[string]int, 4)
		for _, t := range tiers {
			sum.Tiers[t.String()]++
		}
	}
	if err := sess.Err(); err != nil {
		sum.Error = err.Error()
	}
	return sum
}

// HandleFavicon serves the site favicon.
func (s *ServerContext) HandleFavicon(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/favicon.png" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(s.Favicon)
}

// HandleIndex serves the main HTML application.
func (s *ServerContext) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && strings.Contains(r.URL.Path, ".") {
		http.NotFound(w, r)
		return
	}

	etag := fmt.Sprintf(`"%x"`, len(s.IndexHTML))

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(s.IndexHTML)
}

// HandleHealthz reports liveness and per-site readiness.
func (s *ServerContext) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	type siteHealth struct {
		Ready bool   `json:"ready"`
		Error string `json:"error,omitempty"`
	}

	resp := struct {
		Status string                `json:"status"`
		Uptime string                `json:"uptime"`
		Sites  map[string]siteHealth `json:"sites"`
	}{
		Status: "ok",
		Uptime: time.Since(startTime).Round(time.Second).String(),
		Sites:  make(map[string]siteHealth, len(s.Sites)),
	}

	for name, sess := range s.Sites {
		h := siteHealth{Ready: sess.Ready()}
		if err := sess.Err(); err != nil {
			h.Error = err.Error()
		}
		resp.Sites[name] = h
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleSites serves the sites API subtree:
//
//	GET  /api/sites                     list all sites
//	GET  /api/sites/{site}              one site summary
//	GET  /api/sites/{site}/overlay      panel polygons as GeoJSON
//	GET  /api/sites/{site}/composite    rendered overlay image
//	PUT  /api/sites/{site}/selection    change the active panel count
//	PUT  /api/sites/{site}/location     move the site center
//	POST /api/sites/{site}/refresh      schedule a layer refetch
func (s *ServerContext) HandleSites(w http.ResponseWriter, r *http.Request) {
	// Path: /api/sites/{siteName}/...
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	if len(parts) == 2 {
		s.handleSiteList(w, r)
		return
	}

	sess, ok := s.Resolve(parts[2])
	if !ok {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleSiteSummary(w, r, sess)
		return
	}

	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}

	switch parts[3] {
	case "overlay":
		s.handleSiteOverlay(w, r, sess)
	case "composite":
		s.handleSiteComposite(w, r, sess)
	case "selection":
		s.handleSiteSelection(w, r, sess)
	case "location":
		s.handleSiteLocation(w, r, sess)
	case "refresh":
		s.handleSiteRefresh(w, r, sess)
	default:
		http.NotFound(w, r)
	}
}

func (s *ServerContext) handleSiteList(w http.ResponseWriter, r *http.Request) {
	summaries := make([]siteSummary, 0, len(s.Config.Sites))
	for _, site := range s.Config.Sites {
		if sess, ok := s.Sites[site.Name]; ok {
			summaries = append(summaries, summarize(sess))
		}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *ServerContext) handleSiteSummary(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.URL.Query().Get("refresh") != "" {
		if err := sess.Refresh(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, summarize(sess))
}

func (s *ServerContext) handleSiteOverlay(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.EnsureReady(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	count, err := countParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	ov, err := sess.Overlay(count)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-store")
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(ov.FeatureCollection())
}

func (s *ServerContext) handleSiteComposite(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.EnsureReady(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	count, err := countParam(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	opts := overlay.CompositeOptions{Format: overlay.FormatPNG}
	query := r.URL.Query()

	if f := query.Get("format"); f != "" {
		if f != overlay.FormatPNG && f != overlay.FormatWebP {
			writeBadRequest(w, fmt.Errorf("unsupported format %q", f))
			return
		}
		opts.Format = f
	}
	if raw := query.Get("scale"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("bad scale %q", raw))
			return
		}
		opts.Scale = v
	}
	if raw := query.Get("quality"); raw != "" {
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("bad quality %q", raw))
			return
		}
		opts.Quality = float32(v)
	}

	data, err := sess.ExportComposite(count, opts)
	if err != nil {
		writeError(w, err)
		return
	}

	contentType := "image/png"
	if opts.Format == overlay.FormatWebP {
		contentType = "image/webp"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *ServerContext) handleSiteSelection(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// The selection needs a loaded panel set to clamp against.
	if err := sess.EnsureReady(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Count *int `json:"count"`
		Step  int  `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, fmt.Errorf("bad selection body: %w", err))
		return
	}

	switch {
	case body.Count != nil:
		sess.SetCount(*body.Count)
	case body.Step > 0:
		sess.Increment()
	case body.Step < 0:
		sess.Decrement()
	default:
		writeBadRequest(w, errors.New("selection body needs count or step"))
		return
	}

	writeJSON(w, http.StatusOK, summarize(sess))
}

func (s *ServerContext) handleSiteLocation(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var pt geo.Point
	if err := json.NewDecoder(r.Body).Decode(&pt); err != nil {
		writeBadRequest(w, fmt.Errorf("bad location body: %w", err))
		return
	}

	if err := sess.SetLocation(pt); err != nil {
		writeBadRequest(w, err)
		return
	}

	// Deliberately not the request context: the debounced fetch outlives
	// this request.
	sess.RequestRefresh(context.Background())

	writeJSON(w, http.StatusAccepted, summarize(sess))
}

func (s *ServerContext) handleSiteRefresh(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sess.RequestRefresh(context.Background())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func countParam(r *http.Request) (*int, error) {
	raw := r.URL.Query().Get("count")
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("bad count %q", raw)
	}
	return &n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// writeError maps domain failures onto HTTP statuses: provider trouble is
// a bad gateway, a site that cannot fetch yet is a conflict. Gateway and
// not-ready failures are worth retrying, the previous render stays valid.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, solar.ErrUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, geo.ErrDegenerateBounds):
		status = http.StatusBadGateway
	case errors.Is(err, session.ErrNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNoLocation):
		status = http.StatusConflict
	}

	body := map[string]interface{}{"error": err.Error()}
	if status == http.StatusBadGateway || status == http.StatusServiceUnavailable {
		body["retryable"] = true
	}
	writeJSON(w, status, body)
}
