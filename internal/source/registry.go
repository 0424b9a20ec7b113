package source

import (
	"fmt"
	"log/slog"
	"sync"

	domainsource "github.com/jafechang/atlas/internal/domain/source"
)

// Registry holds the current SourceConfig set in memory and supports
// hot-reload between collection runs (spec §3: "immutable during one
// collection run; reloadable between runs").
type Registry struct {
	mu   sync.RWMutex
	path string
	byName map[string]*domainsource.Config
}

// NewRegistry loads path once and returns a ready Registry.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// All returns a snapshot slice of every configured source, in no particular
// order. Callers must not mutate the returned Configs.
func (r *Registry) All() []*domainsource.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domainsource.Config, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	return out
}

// Enabled returns All filtered to Enabled sources only.
func (r *Registry) Enabled() []*domainsource.Config {
	all := r.All()
	out := make([]*domainsource.Config, 0, len(all))
	for _, c := range all {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the named source, or (nil, false) if unknown.
func (r *Registry) Get(name string) (*domainsource.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Reload re-reads the backing YAML file and swaps the registry contents
// in-place, logging additions, removals, and per-field changes by name —
// the same diff-and-warn shape as the app config's ConfigHolder.Reload.
func (r *Registry) Reload() error {
	next, err := loadFile(r.path)
	if err != nil {
		return fmt.Errorf("reload sources: %w", err)
	}

	nextByName := make(map[string]*domainsource.Config, len(next))
	for _, c := range next {
		nextByName[c.Name] = c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range nextByName {
		if _, existed := r.byName[name]; !existed {
			slog.Info("source registry reload: source added", "name", name)
		}
	}
	for name, old := range r.byName {
		nc, still := nextByName[name]
		if !still {
			slog.Info("source registry reload: source removed", "name", name)
			continue
		}
		if nc.Enabled != old.Enabled {
			slog.Info("source registry reload: enabled changed", "name", name, "old", old.Enabled, "new", nc.Enabled)
		}
		if nc.Interval != old.Interval {
			slog.Info("source registry reload: interval changed", "name", name, "old", old.Interval, "new", nc.Interval)
		}
		if nc.URL != old.URL {
			slog.Info("source registry reload: url changed", "name", name, "old", old.URL, "new", nc.URL)
		}
	}

	r.byName = nextByName
	return nil
}
