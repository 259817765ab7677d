// Package config handles configuration loading and shared data structures.
package config

import (
	"fmt"
	"os"

	"github.com/heliomap/heliomap/internal/geo"
	"github.com/heliomap/heliomap/internal/layout"

	"gopkg.in/yaml.v3"
)

// DefaultPanel is used for any module dimension the config and the data
// provider both leave unset.
var DefaultPanel = layout.Dimensions{
	WidthMeters:   0.99,
	HeightMeters:  1.65,
	CapacityWatts: 400,
}

// Config represents the root configuration file structure.
type Config struct {
	Provider Provider          `yaml:"provider" json:"provider"`
	Panel    layout.Dimensions `yaml:"panel,omitempty" json:"panel"`
	CacheDir string            `yaml:"cache_dir,omitempty" json:"-"`
	Sites    []Site            `yaml:"sites" json:"sites"`
}

// Provider points at the solar data API.
type Provider struct {
	BaseURL string `yaml:"base_url" json:"-"`
	APIKey  string `yaml:"api_key,omitempty" json:"-"`
}

// Site represents a single rooftop to analyze. A layout may be declared
// inline; otherwise it is fetched from the provider's building insights.
type Site struct {
	Index *int `yaml:"index,omitempty" json:"index,omitempty"`

	Name       string           `yaml:"name" json:"name"`
	Aliases    []string         `yaml:"aliases,omitempty" json:"-"`
	Center     *geo.Point       `yaml:"center,omitempty" json:"center,omitempty"`
	StartCount *int             `yaml:"start_count,omitempty" json:"-"`
	MaxPanels  int              `yaml:"max_panels,omitempty" json:"max_panels,omitempty"`
	Segments   []layout.Segment `yaml:"segments,omitempty" json:"-"`
	Panels     []layout.Panel   `yaml:"panels,omitempty" json:"-"`
}

// Load reads and parses the YAML configuration file from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Panel.WidthMeters <= 0 {
		c.Panel.WidthMeters = DefaultPanel.WidthMeters
	}
	if c.Panel.HeightMeters <= 0 {
		c.Panel.HeightMeters = DefaultPanel.HeightMeters
	}
	if c.Panel.CapacityWatts <= 0 {
		c.Panel.CapacityWatts = DefaultPanel.CapacityWatts
	}

	for i := range c.Sites {
		site := &c.Sites[i]
		for j := range site.Panels {
			site.Panels[j].Index = j
			site.Panels[j].Orientation = site.Panels[j].Orientation.Normalize()
		}
		if site.MaxPanels <= 0 {
			site.MaxPanels = len(site.Panels)
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]string)

	claim := func(name, owner string) error {
		if name == "" {
			return fmt.Errorf("site %q has an empty name or alias", owner)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("site name %q used by both %q and %q", name, prev, owner)
		}
		seen[name] = owner
		return nil
	}

	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return fmt.Errorf("site at position %d has no name", i)
		}
		if err := claim(site.Name, site.Name); err != nil {
			return err
		}
		for _, alias := range site.Aliases {
			if err := claim(alias, site.Name); err != nil {
				return err
			}
		}
		if site.Center != nil && !site.Center.Valid() {
			return fmt.Errorf("site %q center out of range: %.4f, %.4f",
				site.Name, site.Center.Latitude, site.Center.Longitude)
		}
		for j := range site.Panels {
			p := &site.Panels[j]
			if p.SegmentIndex != nil && (*p.SegmentIndex < 0 || *p.SegmentIndex >= len(site.Segments)) {
				return fmt.Errorf("site %q panel %d references segment %d, have %d",
					site.Name, j, *p.SegmentIndex, len(site.Segments))
			}
		}
	}

	return nil
}
