package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/heliomap/heliomap/internal/config"
	"github.com/heliomap/heliomap/internal/logger"
	"github.com/heliomap/heliomap/internal/server"
	"github.com/heliomap/heliomap/internal/solar"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"    env:"CONFIG_FILE"    description:"Path to configuration file" default:"config.yaml"`
	Addr       string `short:"a" long:"addr"      env:"LISTEN_ADDRESS" description:"Address to listen on"       default:"0.0.0.0"`
	Port       int    `short:"p" long:"port"      env:"LISTEN_PORT"    description:"Port to listen on"          default:"8080"`
	BaseURL    string `short:"u" long:"base-url"  env:"SOLAR_BASE_URL" description:"Solar data provider base URL"`
	APIKey     string `short:"k" long:"api-key"   env:"SOLAR_API_KEY"  description:"Solar data provider API key"`
	CacheDir   string `short:"d" long:"cache-dir" env:"CACHE_DIR"      description:"Directory for cached provider payloads"`
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

	// Setup Logging
	opts.Logger.Setup()

	// Load Config
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
	if cfg.CacheDir == "" {
		if opts.CacheDir == "" {
			cfg.CacheDir = "cache"
		} else {
			cfg.CacheDir = opts.CacheDir
		}
	}

	client := solar.New(cfg.Provider.BaseURL, cfg.Provider.APIKey)
	client.CacheDir = cfg.CacheDir

	srvCtx := server.NewServerContext(cfg, client)

	// Routes
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sites", srvCtx.HandleSites)
	mux.HandleFunc("/api/sites/", srvCtx.HandleSites)
	mux.HandleFunc("/healthz", srvCtx.HandleHealthz)
	mux.Handle("/metrics", server.MetricsHandler())
	mux.HandleFunc("/favicon.png", srvCtx.HandleFavicon)
	mux.HandleFunc("/", srvCtx.HandleIndex)

	handler := server.RequestLogger(server.Instrument(mux))

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	log.Info().
		Str("addr", listenAddr).
		Int("sites_loaded", len(cfg.Sites)).
		Str("provider", cfg.Provider.BaseURL).
		Msg("Web server started")

	if err := http.ListenAndServe(listenAddr, handler); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
