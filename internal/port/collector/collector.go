// Package collector defines the Collector port (interface) and adapter
// registry (spec §4.3).
package collector

import (
	"context"
	"fmt"

	"github.com/jafechang/atlas/internal/domain/document"
	"github.com/jafechang/atlas/internal/domain/source"
)

// CollectorError carries the source a fetch/parse failure occurred against,
// per §4.3's "must not partially succeed silently" requirement: an adapter
// either returns every entry or returns one of these, never a partial list.
type CollectorError struct {
	SourceID string
	Cause    error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("collector: source %s: %v", e.SourceID, e.Cause)
}

func (e *CollectorError) Unwrap() error {
	return e.Cause
}

// Collector fetches and parses one source into RawDocuments. Implementations
// must be idempotent with respect to source state: re-running yields the
// same set modulo new upstream items.
type Collector interface {
	// Collect synchronously fetches and parses cfg, returning every entry
	// or a *CollectorError — never a partial list.
	Collect(ctx context.Context, cfg *source.Config) ([]*document.Raw, error)
}

// Factory constructs a Collector for a given source.Type.
type Factory func() Collector
