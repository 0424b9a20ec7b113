// Package source loads and hot-reloads the SourceConfig registry (spec §6)
// from a YAML file, and resolves user-agent aliases through a small adapted
// secret vault.
package source

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	domainsource "github.com/jafechang/atlas/internal/domain/source"
)

// DefaultInterval is applied to any source entry that omits interval.
const DefaultInterval = 3600 * time.Second

// fileFormat is the on-disk shape of the sources YAML file: a bare list
// under a top-level "sources" key.
type fileFormat struct {
	Sources []entry `yaml:"sources"`
}

// entry mirrors domainsource.Config but with pointer fields so we can tell
// "omitted" apart from "explicitly zero" before applying defaults.
type entry struct {
	Name           string                  `yaml:"name"`
	SourceType     domainsource.Type       `yaml:"type"`
	URL            string                  `yaml:"url"`
	Enabled        *bool                   `yaml:"enabled"`
	Interval       *int                    `yaml:"interval"` // seconds
	Tags           []string                `yaml:"tags"`
	Category       string                  `yaml:"category"`
	Selectors      domainsource.Selectors  `yaml:"selectors"`
	UserAgent      string                  `yaml:"user_agent"`
	MaxItemsPerRun int                     `yaml:"max_items_per_run"`
	RetryCount     int                     `yaml:"retry_count"`
	Timeout        *int                    `yaml:"timeout"` // seconds
}

// loadFile reads and parses path into a validated slice of source.Config,
// applying the §6 defaults (enabled=true, interval=3600s) to any field the
// YAML entry omitted.
func loadFile(path string) ([]*domainsource.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied config
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(ff.Sources))
	out := make([]*domainsource.Config, 0, len(ff.Sources))
	for _, e := range ff.Sources {
		cfg := &domainsource.Config{
			Name:           e.Name,
			SourceType:     e.SourceType,
			URL:            e.URL,
			Tags:           e.Tags,
			Category:       e.Category,
			Enabled:        true,
			Interval:       DefaultInterval,
			MaxItemsPerRun: e.MaxItemsPerRun,
			RetryCount:     e.RetryCount,
			Timeout:        10 * time.Second,
			Selectors:      e.Selectors,
			UserAgent:      e.UserAgent,
		}
		if e.Enabled != nil {
			cfg.Enabled = *e.Enabled
		}
		if e.Interval != nil {
			cfg.Interval = time.Duration(*e.Interval) * time.Second
		}
		if e.Timeout != nil {
			cfg.Timeout = time.Duration(*e.Timeout) * time.Second
		}

		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("sources.yaml: %w", err)
		}
		if seen[cfg.Name] {
			return nil, fmt.Errorf("sources.yaml: duplicate source name %q", cfg.Name)
		}
		seen[cfg.Name] = true

		out = append(out, cfg)
	}

	return out, nil
}
