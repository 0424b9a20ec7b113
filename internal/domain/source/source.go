// Package source defines the SourceConfig domain entity (spec §3, §6).
package source

import "time"

// Type names the collector adapter a source uses.
type Type string

const (
	TypeRSS Type = "rss"
	TypeWeb Type = "web"
)

// MinInterval is the lowest allowed CollectionInterval; SourceConfig.Validate
// rejects anything below it.
const MinInterval = 60 * time.Second

// Selectors holds per-source CSS/XPath extraction rules used by the web
// adapter (§4.3, §4.4). Each field is an ordered fallback chain: the first
// selector that matches non-empty content wins.
type Selectors struct {
	Title   []string `yaml:"title,omitempty"`
	Content []string `yaml:"content,omitempty"`
	Author  []string `yaml:"author,omitempty"`
	Date    []string `yaml:"date,omitempty"`
}

// Config is one entry in the source registry (spec §6's sources.yaml). It is
// immutable during a collection run and reloadable only between runs.
type Config struct {
	Name           string        `yaml:"name"`
	SourceType     Type          `yaml:"source_type"`
	URL            string        `yaml:"url"`
	Tags           []string      `yaml:"tags,omitempty"`
	Category       string        `yaml:"category,omitempty"`
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	MaxItemsPerRun int           `yaml:"max_items_per_run"`
	RetryCount     int           `yaml:"retry_count"`
	Timeout        time.Duration `yaml:"timeout"`
	Selectors      Selectors     `yaml:"selectors,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty"` // UA registry alias or literal string
}

// Validate checks the invariants named in spec §3: name set, known source
// type, interval floor, non-negative retry count.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errSourceFieldRequired("name")
	}
	if c.URL == "" {
		return errSourceFieldRequired("url")
	}
	switch c.SourceType {
	case TypeRSS, TypeWeb:
	default:
		return errSourceInvalidType(c.SourceType)
	}
	if c.Interval < MinInterval {
		return errSourceIntervalTooShort(c.Name, c.Interval)
	}
	if c.RetryCount < 0 {
		return errSourceNegativeRetry(c.Name)
	}
	return nil
}
