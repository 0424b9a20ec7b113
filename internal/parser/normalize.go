package parser

import (
	"regexp"
	"strings"
	"unicode"
)

// zeroWidthRunes lists zero-width characters and the UTF-8 BOM that should
// be dropped during normalization (§4.4).
var zeroWidthRunes = map[rune]bool{
	'​': true, // zero width space
	'‌': true, // zero width non-joiner
	'‍': true, // zero width joiner
	'﻿': true, // BOM / zero width no-break space
}

// stripInvisible removes zero-width characters and C0/C1 control characters,
// keeping \n and \t (§4.4).
func stripInvisible(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case zeroWidthRunes[r]:
			continue
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// mojibakeReplacer fixes the handful of UTF-8-mis-decoded-as-Latin-1 and
// double-encoded sequences common enough to be worth a direct table (§4.4's
// "common mojibake" — a general charset re-transcoder is out of scope here;
// see DESIGN.md).
var mojibakeReplacer = strings.NewReplacer(
	"â€™", "’", // a-circumflex,euro,trademark -> right single quote
	"â€œ", "“", // -> left double quote
	"â€", "”", // -> right double quote
	"â€“", "–", // -> en dash
	"â€”", "—", // -> em dash
	"Ã©", "é", // -> e acute
	"Ã¨", "è", // -> e grave
)

func fixMojibake(s string) string {
	return mojibakeReplacer.Replace(s)
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)
var blankLines = regexp.MustCompile(`\n{3,}`)

// collapseWhitespace collapses runs of spaces/tabs to one space while
// preserving paragraph-separating newlines (§4.4).
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(l, " "))
	}
	joined := strings.Join(lines, "\n")
	return blankLines.ReplaceAllString(joined, "\n\n")
}

// isCJK reports whether r belongs to a CJK script block.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// spaceCJKLatinBoundaries inserts a single space between adjacent CJK and
// Latin-script letters, per §4.4's "language-sensitive spacing." Only
// applied when the language hint indicates a CJK language, since applying
// it unconditionally would corrupt pure-Latin text whose spacing was
// already intentional.
func spaceCJKLatinBoundaries(s string, language string) string {
	if language == "" {
		return s
	}
	if !strings.HasPrefix(language, "zh") && !strings.HasPrefix(language, "ja") && !strings.HasPrefix(language, "ko") {
		return s
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i, r := range runes {
		b.WriteRune(r)
		if i+1 >= len(runes) {
			continue
		}
		next := runes[i+1]
		if isCJK(r) != isCJK(next) && unicode.IsLetter(r) && unicode.IsLetter(next) {
			b.WriteRune(' ')
		}
	}
	return b.String()
}
