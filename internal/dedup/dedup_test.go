package dedup_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jafechang/atlas/internal/dedup"
	"github.com/jafechang/atlas/internal/domain/document"
)

func proc(id, groupID, content string) *document.Processed {
	var g *string
	if groupID != "" {
		g = &groupID
	}
	p := &document.Processed{ID: id, Content: content}
	if g != nil {
		p.SimilarityGroupID = g
	}
	return p
}

func TestCheck_ExactHashCollisionIsDuplicate(t *testing.T) {
	d := dedup.New(dedup.DefaultOptions(), nil, nil)
	existing := []*document.Processed{proc("doc-1", "doc-1", "Identical article body about widgets.")}
	candidate := proc("doc-2", "", "Identical article body about widgets.")

	res, err := d.Check(context.Background(), candidate, existing)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.IsDuplicate {
		t.Fatal("expected exact content match to be flagged duplicate")
	}
	if res.SimilarityScore != 1.0 {
		t.Errorf("expected similarity 1.0 for exact hash match, got %v", res.SimilarityScore)
	}
	if res.SimilarityGroupID != "doc-1" {
		t.Errorf("expected group doc-1, got %q", res.SimilarityGroupID)
	}
}

func TestCheck_DissimilarContentIsNotDuplicate(t *testing.T) {
	d := dedup.New(dedup.DefaultOptions(), nil, nil)
	existing := []*document.Processed{proc("doc-1", "doc-1", "A detailed review of regional weather patterns in early spring.")}
	candidate := proc("doc-2", "", "Quarterly earnings report shows growth in overseas semiconductor sales.")

	res, err := d.Check(context.Background(), candidate, existing)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.IsDuplicate {
		t.Errorf("expected unrelated content not to be flagged duplicate, got score %v", res.SimilarityScore)
	}
}

// repeatedPhrase builds long, heavily-repeated text so that a single
// differing trailing word barely moves the SimHash fingerprint — the shared
// repeated shingles dominate the weighted sum at nearly every bit position.
func repeatedPhrase(tail string, repeats int) string {
	const phrase = "the quarterly report shows strong growth across all regional markets this "
	return strings.Repeat(phrase+"year ", repeats-1) + phrase + tail
}

func TestCheck_NearDuplicateFallsBackToTFIDFWithoutEmbedder(t *testing.T) {
	d := dedup.New(dedup.DefaultOptions(), nil, nil)
	base := repeatedPhrase("year", 10)
	nearDup := repeatedPhrase("season", 10)
	existing := []*document.Processed{proc("doc-1", "doc-1", base)}
	candidate := proc("doc-2", "", nearDup)

	res, err := d.Check(context.Background(), candidate, existing)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Degraded {
		t.Error("expected Degraded=true when no embedder is configured")
	}
	if !res.IsDuplicate {
		t.Errorf("expected heavily-repeated near-identical text to score above the similarity threshold under TF-IDF, score=%v", res.SimilarityScore)
	}
}

func TestCheck_EmptyContentReturnsError(t *testing.T) {
	d := dedup.New(dedup.DefaultOptions(), nil, nil)
	candidate := proc("doc-2", "", "")

	_, err := d.Check(context.Background(), candidate, nil)
	if err == nil {
		t.Fatal("expected error for empty content")
	}
	var derr *dedup.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *dedup.Error, got %T", err)
	}
	if !errors.Is(err, dedup.ErrEmptyContent) {
		t.Errorf("expected wrapped ErrEmptyContent, got %v", err)
	}
}

func TestCheck_HashOnlyStrategySkipsSemanticPass(t *testing.T) {
	opts := dedup.DefaultOptions()
	opts.Strategy = dedup.HashOnly
	d := dedup.New(opts, nil, nil)

	existing := []*document.Processed{proc("doc-1", "doc-1", "completely different content about gardening tips")}
	candidate := proc("doc-2", "", "completely different content about gardening hints")

	res, err := d.Check(context.Background(), candidate, existing)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.IsDuplicate {
		t.Error("hash_only strategy should never flag a near-duplicate as duplicate")
	}
}

type stubEmbedder struct {
	vectors map[string][]float64
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return nil, errors.New("no embedding for text")
}

func TestCheck_UsesEmbeddingWhenAvailable(t *testing.T) {
	base := repeatedPhrase("year", 10)
	nearDup := repeatedPhrase("season", 10)
	embedder := &stubEmbedder{vectors: map[string][]float64{
		base:    {1, 0, 0},
		nearDup: {1, 0, 0.01},
	}}
	d := dedup.New(dedup.DefaultOptions(), nil, embedder)

	existing := []*document.Processed{proc("doc-1", "doc-1", base)}
	candidate := proc("doc-2", "", nearDup)

	res, err := d.Check(context.Background(), candidate, existing)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Degraded {
		t.Error("expected Degraded=false when embedder succeeds")
	}
	if !res.IsDuplicate {
		t.Errorf("expected near-identical embeddings to cross similarity threshold, score=%v", res.SimilarityScore)
	}
}
