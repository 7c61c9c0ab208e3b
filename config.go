package jittpl

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the YAML form of the rendering options:
//
//	raise_on_context_miss: false
//	escape: sanitize
//	specialize: true
//	partial_cache_size: 200
type Config struct {
	RaiseOnContextMiss *bool  `yaml:"raise_on_context_miss"`
	Escape             string `yaml:"escape"`
	Specialize         *bool  `yaml:"specialize"`
	PartialCacheSize   int    `yaml:"partial_cache_size"`
}

// LoadConfig decodes a YAML configuration document.
func LoadConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("jittpl: decode config: %w", err)
	}
	return cfg, nil
}

// Options converts the configuration into options for New and NewView.
// Unset fields keep their defaults.
func (c Config) Options() ([]Option, error) {
	var opts []Option
	if c.RaiseOnContextMiss != nil {
		opts = append(opts, WithRaiseOnContextMiss(*c.RaiseOnContextMiss))
	}
	if c.Specialize != nil {
		opts = append(opts, WithSpecialization(*c.Specialize))
	}
	if c.PartialCacheSize > 0 {
		opts = append(opts, WithPartialCacheSize(c.PartialCacheSize))
	}
	switch strings.ToLower(strings.TrimSpace(c.Escape)) {
	case "", "html":
	case "sanitize":
		opts = append(opts, WithEscaper(SanitizeHTML))
	case "none":
		opts = append(opts, WithEscaper(nil))
	default:
		return nil, fmt.Errorf("jittpl: unknown escape mode %q", c.Escape)
	}
	return opts, nil
}
