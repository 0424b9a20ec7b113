package parser

import (
	"strings"
	"unicode"
)

// computeQuality derives the signals named by §4.4 and a weighted
// quality_score in [0, 100].
func computeQuality(text string, language string) Quality {
	q := Quality{
		Length:             len(text),
		PrintableRatio:     printableRatio(text),
		DistinctTokenRatio: distinctTokenRatio(text),
		RepetitionRatio:    repetitionRatio(text),
		Language:           language,
	}
	q.QualityScore = weightedScore(q)
	return q
}

func printableRatio(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	printable := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsPrint(r) {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}

func distinctTokenRatio(text string) float64 {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		seen[strings.ToLower(t)] = true
	}
	return float64(len(seen)) / float64(len(tokens))
}

// repetitionRatio finds the maximum fraction of the document occupied by
// any repeated 100-character substring (§4.4).
func repetitionRatio(text string) float64 {
	const windowSize = 100
	if len(text) < windowSize*2 {
		return 0
	}

	counts := make(map[string]int)
	for i := 0; i+windowSize <= len(text); i += windowSize / 2 {
		counts[text[i:i+windowSize]]++
	}

	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount <= 1 {
		return 0
	}

	occupied := maxCount * windowSize
	if occupied > len(text) {
		occupied = len(text)
	}
	return float64(occupied) / float64(len(text))
}

// weightedScore combines the quality signals into a single 0..100 score:
// length and printable ratio reward substantive, clean text; distinct
// token ratio rewards varied vocabulary; repetition ratio penalizes
// boilerplate/spam.
func weightedScore(q Quality) float64 {
	lengthScore := minFloat(float64(q.Length)/2000.0, 1.0) * 30
	printableScore := q.PrintableRatio * 25
	distinctScore := q.DistinctTokenRatio * 25
	repetitionPenalty := q.RepetitionRatio * 20

	total := lengthScore + printableScore + distinctScore - repetitionPenalty
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	return total
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
