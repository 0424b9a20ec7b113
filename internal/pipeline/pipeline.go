// Package pipeline wires Collector, Parser, Validator, and Deduplicator
// output into persistence, the sequence named by the data-flow line in
// §4.3-§4.6: a source yields RawDocuments, each RawDocument is parsed into
// a ProcessedDocument, validated, checked against its recent duplicates,
// and stored.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jafechang/atlas/internal/dedup"
	"github.com/jafechang/atlas/internal/domain"
	"github.com/jafechang/atlas/internal/domain/document"
	"github.com/jafechang/atlas/internal/domain/source"
	"github.com/jafechang/atlas/internal/parser"
	"github.com/jafechang/atlas/internal/port/collector"
	"github.com/jafechang/atlas/internal/port/persistence"
	"github.com/jafechang/atlas/internal/validator"
)

// maxProcessingAttempts bounds how many times ProcessRaw retries a
// RawDocument before it is left in ProcessingFailed for good.
const maxProcessingAttempts = 3

// Pipeline runs one RawDocument through parse, validate, and dedup, and
// runs one SourceConfig through its registered Collector.
type Pipeline struct {
	store      persistence.Store
	collectors map[source.Type]collector.Collector
	validator  *validator.Validator
	dedup      *dedup.Deduplicator
	now        func() time.Time
}

// New builds a Pipeline. collectors maps each source.Type to the already-
// constructed adapter instance that should handle it (built outside this
// package so each adapter can be wired with its own Fetcher).
func New(store persistence.Store, collectors map[source.Type]collector.Collector, v *validator.Validator, d *dedup.Deduplicator) *Pipeline {
	return &Pipeline{store: store, collectors: collectors, validator: v, dedup: d, now: time.Now}
}

// CollectSource runs cfg's Collector and stores every RawDocument it
// returns. Per §4.3, a Collector either yields every entry or fails
// entirely — there is no partial persistence to roll back.
func (p *Pipeline) CollectSource(ctx context.Context, cfg *source.Config) (int, error) {
	c, ok := p.collectors[cfg.SourceType]
	if !ok {
		return 0, fmt.Errorf("pipeline: no collector registered for source type %q", cfg.SourceType)
	}

	docs, err := c.Collect(ctx, cfg)
	if err != nil {
		return 0, err
	}

	for _, d := range docs {
		if err := p.store.PutRaw(ctx, d); err != nil {
			return 0, fmt.Errorf("pipeline: store raw document %s: %w", d.ID, err)
		}
	}
	return len(docs), nil
}

// ProcessRaw parses, validates, and dedup-checks one RawDocument by ID, then
// persists the resulting ProcessedDocument. It advances the RawDocument's
// ProcessingStatus on every outcome (§4.4's monotonic status requirement).
func (p *Pipeline) ProcessRaw(ctx context.Context, rawID string) error {
	raw, err := p.store.GetRaw(ctx, rawID)
	if err != nil {
		return fmt.Errorf("pipeline: load raw %s: %w", rawID, err)
	}

	if err := p.store.UpdateRawStatus(ctx, raw.ID, document.ProcessingInProgress, raw.ProcessingAttempts, ""); err != nil {
		return fmt.Errorf("pipeline: mark processing %s: %w", rawID, err)
	}

	result, parseErr := parser.Parse(raw.RawContent, nil, parser.Options{Language: raw.Language})
	if parseErr != nil {
		return p.failRaw(ctx, raw, raw.ProcessingAttempts+1, fmt.Errorf("%w: %v", domain.ErrParse, parseErr))
	}

	processed := &document.Processed{
		ID:               uuid.NewString(),
		RawDocumentID:    raw.ID,
		Title:            raw.Title,
		Content:          result.Text,
		ProcessedAt:      p.now(),
		ProcessorVersion: "pipeline-v1",
		QualityScore:     result.Quality.QualityScore,
	}

	findings, accepted := p.validator.Validate(validator.Input{Raw: raw, Processed: processed})
	if !accepted {
		return p.failRaw(ctx, raw, raw.ProcessingAttempts+1, fmt.Errorf("%w: %s", domain.ErrValidation, findingsSummary(findings)))
	}

	if err := p.applyDedup(ctx, processed, raw.ContentHash); err != nil {
		return p.failRaw(ctx, raw, raw.ProcessingAttempts+1, err)
	}

	if err := p.store.PutProcessed(ctx, processed); err != nil {
		return fmt.Errorf("pipeline: store processed %s: %w", processed.ID, err)
	}

	return p.store.UpdateRawStatus(ctx, raw.ID, document.ProcessingDone, raw.ProcessingAttempts+1, "")
}

// applyDedup compares candidate against the other processed documents that
// share its raw content hash — the comparison window persistence.Store
// exposes for this pass (a corpus-wide index is out of scope per §4.5).
func (p *Pipeline) applyDedup(ctx context.Context, candidate *document.Processed, contentHash string) error {
	existing, err := p.store.RecentByHash(ctx, contentHash)
	if err != nil {
		return fmt.Errorf("pipeline: load dedup candidates: %w", err)
	}
	existingPtrs := make([]*document.Processed, len(existing))
	for i := range existing {
		existingPtrs[i] = &existing[i]
	}

	res, err := p.dedup.Check(ctx, candidate, existingPtrs)
	if err != nil {
		return fmt.Errorf("pipeline: dedup check: %w", err)
	}

	candidate.IsDuplicate = res.IsDuplicate
	candidate.SimilarityScore = res.SimilarityScore
	if res.IsDuplicate {
		groupID := res.SimilarityGroupID
		candidate.SimilarityGroupID = &groupID
		return nil
	}

	groupID := candidate.ID
	candidate.SimilarityGroupID = &groupID
	return nil
}

// failRaw records a processing failure and bounds retries: once attempts
// reaches maxProcessingAttempts the RawDocument settles in ProcessingFailed.
func (p *Pipeline) failRaw(ctx context.Context, raw *document.Raw, attempts int, cause error) error {
	status := document.ProcessingFailed
	if attempts < maxProcessingAttempts {
		status = document.ProcessingPending
	}
	if err := p.store.UpdateRawStatus(ctx, raw.ID, status, attempts, cause.Error()); err != nil {
		return fmt.Errorf("pipeline: record failure for %s: %w", raw.ID, err)
	}
	return cause
}

func findingsSummary(findings []validator.Finding) string {
	msgs := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Level == validator.LevelError {
			msgs = append(msgs, f.Code+": "+f.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
