// Package dedup implements duplicate detection over ProcessedDocuments: exact
// content hashing, SimHash near-duplicate filtering, and a fine-grained
// cosine-similarity pass (LLM embedding when available, TF-IDF fallback
// otherwise). See §4.5.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jafechang/atlas/internal/domain/document"
	"github.com/jafechang/atlas/internal/port/cache"
)

// ErrEmptyContent is the structural failure named in §4.5: a candidate whose
// normalized content is empty cannot be hashed or fingerprinted.
var ErrEmptyContent = errors.New("dedup: normalized content is empty")

// Error wraps a dedup failure with the candidate document it was raised for.
type Error struct {
	DocumentID string
	Cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dedup %s: %v", e.DocumentID, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Strategy selects which similarity signals Check consults.
type Strategy string

const (
	HashOnly     Strategy = "hash_only"
	SemanticOnly Strategy = "semantic_only"
	Hybrid       Strategy = "hybrid"
)

// Options configures a Deduplicator, with the defaults named in §4.5.
type Options struct {
	Strategy            Strategy
	SimHashThreshold    int     // max Hamming distance to consider "near"; default 3
	SimilarityThreshold float64 // cosine threshold to call it a duplicate; default 0.80
	EmbeddingCacheTTL   time.Duration
}

// DefaultOptions returns §4.5's documented defaults.
func DefaultOptions() Options {
	return Options{
		Strategy:            Hybrid,
		SimHashThreshold:    3,
		SimilarityThreshold: 0.80,
		EmbeddingCacheTTL:   24 * time.Hour,
	}
}

// EmbeddingProvider is the narrow LLM-embedding dependency Deduplicator needs;
// it is satisfied by the C10/C11 LLM client stack but kept local here so this
// package does not import them directly.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Deduplicator implements §4.5's hybrid duplicate-detection strategy.
type Deduplicator struct {
	opts     Options
	cache    cache.Cache
	embedder EmbeddingProvider
}

// New builds a Deduplicator. embedder may be nil, in which case the semantic
// pass always falls back to TF-IDF (equivalent to the LLM circuit being
// permanently open).
func New(opts Options, c cache.Cache, embedder EmbeddingProvider) *Deduplicator {
	return &Deduplicator{opts: opts, cache: c, embedder: embedder}
}

// Result is the outcome of Check.
type Result struct {
	IsDuplicate       bool
	SimilarityGroupID string
	SimilarityScore   float64
	Degraded          bool // true if the LLM embedding path was unavailable
}

// Check compares candidate against existing, the already-stored documents in
// its similarity_group window (§4.5's scope — not a corpus-wide index).
// Every element of existing is assumed to already carry a non-empty
// SimilarityGroupID (the head of its own group if it was never matched to
// another).
func (d *Deduplicator) Check(ctx context.Context, candidate *document.Processed, existing []*document.Processed) (Result, error) {
	if len(candidate.Content) == 0 {
		return Result{}, &Error{DocumentID: candidate.ID, Cause: ErrEmptyContent}
	}

	if d.opts.Strategy != SemanticOnly {
		if res, ok := d.checkExactHash(candidate, existing); ok {
			return res, nil
		}
	}
	if d.opts.Strategy == HashOnly {
		return Result{}, nil
	}

	candidateSimHash := simHash(candidate.Content)
	var near []*document.Processed
	for _, e := range existing {
		if e.ID == candidate.ID {
			continue
		}
		if hammingDistance(candidateSimHash, simHash(e.Content)) <= d.opts.SimHashThreshold {
			near = append(near, e)
		}
	}
	if len(near) == 0 {
		return Result{}, nil
	}

	degraded := d.embedder == nil
	var candidateVec []float64
	if !degraded {
		vec, err := d.embedFor(ctx, candidate.ID, candidate.Content)
		if err != nil {
			degraded = true
		} else {
			candidateVec = vec
		}
	}

	bestScore := -1.0
	var bestGroup string
	for _, nc := range near {
		var score float64
		if !degraded {
			otherVec, err := d.embedFor(ctx, nc.ID, nc.Content)
			if err != nil {
				degraded = true
			} else {
				score = cosineSimilarity(candidateVec, otherVec)
			}
		}
		if degraded {
			score = tfidfCosine(candidate.Content, nc.Content, contentCorpus(existing))
		}
		group := groupOf(nc)
		if score > bestScore || (score == bestScore && group < bestGroup) {
			bestScore = score
			bestGroup = group
		}
	}

	if bestScore >= d.opts.SimilarityThreshold {
		return Result{IsDuplicate: true, SimilarityGroupID: bestGroup, SimilarityScore: bestScore, Degraded: degraded}, nil
	}
	return Result{Degraded: degraded}, nil
}

// checkExactHash reports whether candidate's MD5/SHA-1/SHA-256 collides with
// any document in existing.
func (d *Deduplicator) checkExactHash(candidate *document.Processed, existing []*document.Processed) (Result, bool) {
	ch := computeHashes(candidate.Content)
	for _, e := range existing {
		if e.ID == candidate.ID {
			continue
		}
		eh := computeHashes(e.Content)
		if ch.md5 == eh.md5 || ch.sha1 == eh.sha1 || ch.sha256 == eh.sha256 {
			return Result{IsDuplicate: true, SimilarityGroupID: groupOf(e), SimilarityScore: 1.0}, true
		}
	}
	return Result{}, false
}

// groupOf returns doc's similarity group, defaulting to its own ID when it
// has never been matched into another group (i.e. it is the head of its
// own, singleton group).
func groupOf(doc *document.Processed) string {
	if doc.SimilarityGroupID != nil && *doc.SimilarityGroupID != "" {
		return *doc.SimilarityGroupID
	}
	return doc.ID
}

// embedFor returns the embedding for content, consulting the cache first and
// populating it on a miss (§4.5's "embeddings are cached by content_hash").
func (d *Deduplicator) embedFor(ctx context.Context, id, content string) ([]float64, error) {
	key := "dedup:embed:" + computeHashes(content).sha256
	if d.cache != nil {
		if raw, ok, err := d.cache.Get(ctx, key); err == nil && ok {
			return decodeVector(raw), nil
		}
	}
	vec, err := d.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("dedup: embed %s: %w", id, err)
	}
	if d.cache != nil {
		_ = d.cache.Set(ctx, key, encodeVector(vec), d.opts.EmbeddingCacheTTL)
	}
	return vec, nil
}
