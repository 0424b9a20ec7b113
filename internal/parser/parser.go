// Package parser produces the canonical text representation of a
// RawDocument: HTML extraction, Unicode normalization, and quality scoring
// (spec §4.4). Parse is a pure function of its input and language hint —
// no network or clock access.
package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

// Result is the canonicalized text plus the quality signals computed over
// it.
type Result struct {
	Text    string
	Quality Quality
}

// Quality holds the signals named by §4.4.
type Quality struct {
	Length             int
	PrintableRatio     float64
	DistinctTokenRatio float64
	RepetitionRatio    float64
	Language           string
	QualityScore       float64 // 0..100
}

// Options controls extraction behavior.
type Options struct {
	// Language is a hint (e.g. BCP-47 tag); empty means "detect/unknown."
	Language string
	// PreserveLinks renders anchors as "text (url)" instead of bare text.
	PreserveLinks bool
}

// Parse turns raw HTML or plain-text bytes into a canonical Result. If doc
// is non-nil, its already-parsed DOM is reused instead of re-parsing raw
// (§4.4's "reuses the *goquery.Document from the web adapter when
// available").
func Parse(raw string, doc *goquery.Document, opts Options) (Result, error) {
	text, err := extractText(raw, doc, opts)
	if err != nil {
		return Result{}, err
	}

	text = normalize(text, opts.Language)

	q := computeQuality(text, opts.Language)
	return Result{Text: text, Quality: q}, nil
}

// extractText strips scripts/styles/comments, separates block elements with
// newlines, and optionally preserves anchors as "text (url)".
func extractText(raw string, doc *goquery.Document, opts Options) (string, error) {
	if doc == nil {
		d, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
		if err != nil {
			return "", err
		}
		doc = d
	}

	doc.Find("script, style, noscript").Remove()
	removeComments(doc.Selection)

	if opts.PreserveLinks {
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			text := strings.TrimSpace(s.Text())
			if href != "" && text != "" {
				s.SetText(text + " (" + href + ")")
			}
		})
	}

	var b strings.Builder
	writeBlocks(doc.Selection, &b)
	return b.String(), nil
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "tr": true, "blockquote": true,
	"section": true, "article": true, "pre": true,
}

// writeBlocks walks the DOM depth-first, emitting a newline after each
// block-level element's text.
func writeBlocks(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#text" {
			b.WriteString(s.Text())
			return
		}
		writeBlocks(s, b)
		if blockTags[goquery.NodeName(s)] {
			b.WriteString("\n")
		}
	})
}

// removeComments strips HTML comment nodes from the document tree.
func removeComments(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#comment" {
			s.Remove()
			return
		}
		removeComments(s)
	})
}

// normalize applies NFKC, strips zero-width/control characters (keeping
// \n and \t), collapses whitespace runs, and trims, per §4.4.
func normalize(text string, language string) string {
	text = norm.NFKC.String(text)
	text = stripInvisible(text)
	text = fixMojibake(text)
	text = collapseWhitespace(text)
	text = spaceCJKLatinBoundaries(text, language)
	return strings.TrimSpace(text)
}
