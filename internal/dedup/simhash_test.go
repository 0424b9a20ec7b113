package dedup

import "testing"

func TestSimHash_IdenticalTextHasZeroDistance(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog near the riverbank"
	if d := hammingDistance(simHash(text), simHash(text)); d != 0 {
		t.Errorf("expected zero distance for identical text, got %d", d)
	}
}

func TestSimHash_UnrelatedTextHasLargeDistance(t *testing.T) {
	a := "quarterly earnings grew sharply across every overseas market division"
	b := "the ancient castle stood silent atop a misty forgotten hillside"
	if d := hammingDistance(simHash(a), simHash(b)); d < 8 {
		t.Errorf("expected unrelated text to differ substantially, got distance %d", d)
	}
}

func TestHammingDistance_SelfIsZero(t *testing.T) {
	if d := hammingDistance(0xABCDEF, 0xABCDEF); d != 0 {
		t.Errorf("expected 0, got %d", d)
	}
}
