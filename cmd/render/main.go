package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/heliomap/heliomap/internal/config"
	"github.com/heliomap/heliomap/internal/logger"
	"github.com/heliomap/heliomap/internal/overlay"
	"github.com/heliomap/heliomap/internal/session"
	"github.com/heliomap/heliomap/internal/solar"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile  string   `short:"c" long:"config"       env:"CONFIG_FILE"    description:"Path to configuration file" default:"config.yaml"`
	BaseURL     string   `short:"u" long:"base-url"     env:"SOLAR_BASE_URL" description:"Solar data provider base URL"`
	APIKey      string   `short:"k" long:"api-key"      env:"SOLAR_API_KEY"  description:"Solar data provider API key"`
	OutDir      string   `short:"o" long:"out"          env:"OUT_DIR"        description:"Output directory" default:"renders"`
	Limit       []string `short:"l" long:"limit"        env:"LIMIT_NAMES"    description:"Limit processing to specific site names"`
	Count       int      `short:"n" long:"count"        description:"Active panel count, 0 keeps the configured start"`
	Scale       float64  `short:"s" long:"scale"        description:"Output resolution multiplier" default:"1"`
	Format      string   `short:"F" long:"format"       description:"Output image format" choice:"png" choice:"webp" default:"png"`
	ImagesOnly  bool     `short:"t" long:"images-only"  description:"Render composite images only"`
	GeoJSONOnly bool     `short:"g" long:"geojson-only" description:"Write overlay GeoJSON only"`
	Force       bool     `short:"f" long:"force"        description:"Bypass the provider payload cache"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if opts.BaseURL != "" {
		cfg.Provider.BaseURL = opts.BaseURL
	}
	if cfg.Provider.BaseURL == "" {
		log.Fatal().Msg("No provider base URL in config or flags")
	}
	if opts.APIKey != "" {
		cfg.Provider.APIKey = opts.APIKey
	}

	client := solar.New(cfg.Provider.BaseURL, cfg.Provider.APIKey)
	client.CacheDir = cfg.CacheDir
	client.Force = opts.Force

	renderImages := true
	renderGeo := true
	if opts.ImagesOnly && !opts.GeoJSONOnly {
		renderGeo = false
	} else if opts.GeoJSONOnly && !opts.ImagesOnly {
		renderImages = false
	}

	// Filter sites if limit is set
	sitesToProcess := cfg.Sites
	if len(opts.Limit) > 0 {
		sitesToProcess = make([]config.Site, 0)
		availableSites := make(map[string]config.Site)
		for _, site := range cfg.Sites {
			availableSites[site.Name] = site
		}

		seen := make(map[string]bool)

		for _, limitName := range opts.Limit {
			if seen[limitName] {
				continue
			}
			seen[limitName] = true

			if site, ok := availableSites[limitName]; ok {
				sitesToProcess = append(sitesToProcess, site)
			} else {
				log.Error().
					Str("name", limitName).
					Msg("Site specified in --limit not found in configuration")
			}
		}
	}

	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", opts.OutDir).Msg("Failed to create output directory")
	}

	var count *int
	if opts.Count > 0 {
		count = &opts.Count
	}

	log.Info().
		Int("sites_total", len(cfg.Sites)).
		Int("sites_queued", len(sitesToProcess)).
		Bool("force", opts.Force).
		Msg("Starting render")

	failed := 0
	for _, site := range sitesToProcess {
		if err := renderSite(cfg, site, client, opts, count, renderImages, renderGeo); err != nil {
			log.Error().Err(err).Str("site", site.Name).Msg("Failed to render site")
			failed++
		}
	}

	if failed > 0 {
		log.Fatal().Int("failed", failed).Msg("Render finished with errors")
	}
	log.Info().Msg("Render finished successfully")
}

func renderSite(cfg *config.Config, site config.Site, client *solar.Client, opts Options, count *int, images, geoJSON bool) error {
	if site.Center == nil {
		log.Warn().Str("site", site.Name).Msg("Skipping site: no center configured")
		return nil
	}

	sess, err := session.New(session.Config{
		Name:       site.Name,
		Location:   site.Center,
		Panels:     site.Panels,
		Segments:   site.Segments,
		Dims:       cfg.Panel,
		MaxPanels:  site.MaxPanels,
		StartCount: site.StartCount,
	}, client)
	if err != nil {
		return err
	}

	if err := sess.Refresh(context.Background()); err != nil {
		return err
	}

	if images {
		data, err := sess.ExportComposite(count, overlay.CompositeOptions{
			Scale:  opts.Scale,
			Format: opts.Format,
		})
		if err != nil {
			return err
		}

		path := filepath.Join(opts.OutDir, site.Name+"."+opts.Format)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		log.Info().Str("site", site.Name).Str("path", path).Msg("Composite written")
	}

	if geoJSON {
		ov, err := sess.Overlay(count)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(ov.FeatureCollection(), "", "  ")
		if err != nil {
			return err
		}

		path := filepath.Join(opts.OutDir, site.Name+".geojson")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		log.Info().Str("site", site.Name).Str("path", path).Msg("Overlay GeoJSON written")
	}

	return nil
}
