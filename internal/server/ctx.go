package server

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/heliomap/heliomap/assets"
	"github.com/heliomap/heliomap/internal/config"
	"github.com/heliomap/heliomap/internal/session"
)

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Config           *config.Config
	Sites            map[string]*session.Session
	SiteNameResolver map[string]string
	IndexHTML        []byte
	Favicon          []byte
}

// NewServerContext initializes the context and builds one session per
// configured site. Sites without a usable center are filtered out and
// aliases are wired into the name resolver.
func NewServerContext(cfg *config.Config, provider session.Provider) *ServerContext {
	log.Info().Int("config_sites_count", len(cfg.Sites)).Msg("Initializing server context")

	resolver := make(map[string]string)
	sessions := make(map[string]*session.Session)
	validSites := make([]config.Site, 0, len(cfg.Sites))

	for i := range cfg.Sites {
		site := &cfg.Sites[i]

		if site.Center == nil {
			log.Warn().
				Str("site", site.Name).
				Msg("Skipping site: no center configured")
			continue
		}

		sess, err := session.New(session.Config{
			Name:       site.Name,
			Location:   site.Center,
			Panels:     site.Panels,
			Segments:   site.Segments,
			Dims:       cfg.Panel,
			MaxPanels:  site.MaxPanels,
			StartCount: site.StartCount,
		}, provider)
		if err != nil {
			log.Error().
				Err(err).
				Str("site", site.Name).
				Msg("Skipping site: session setup failed")
			continue
		}

		// Setup Resolver
		resolver[site.Name] = site.Name
		for _, alias := range site.Aliases {
			resolver[alias] = site.Name
		}
		sessions[site.Name] = sess

		log.Debug().
			Str("site", site.Name).
			Int("inline_panels", len(site.Panels)).
			Msg("Site validated and added to context")

		validSites = append(validSites, *site)
	}

	cfg.Sites = validSites

	sort.Slice(cfg.Sites, func(i, j int) bool {
		idxI, idxJ := 999999, 999999
		if cfg.Sites[i].Index != nil {
			idxI = *cfg.Sites[i].Index
		}
		if cfg.Sites[j].Index != nil {
			idxJ = *cfg.Sites[j].Index
		}
		if idxI != idxJ {
			return idxI < idxJ
		}

		return cfg.Sites[i].Name < cfg.Sites[j].Name
	})

	log.Info().
		Int("valid_sites_count", len(cfg.Sites)).
		Msg("Server context initialized successfully")

	return &ServerContext{
		Config:           cfg,
		Sites:            sessions,
		SiteNameResolver: resolver,
		IndexHTML:        assets.Index,
		Favicon:          assets.Favicon,
	}
}

// Resolve maps a requested site name or alias to its session.
func (s *ServerContext) Resolve(name string) (*session.Session, bool) {
	canonical, ok := s.SiteNameResolver[name]
	if !ok {
		return nil, false
	}
	sess, ok := s.Sites[canonical]
	return sess, ok
}
