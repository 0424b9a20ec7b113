package parser_test

import (
	"strings"
	"testing"

	"github.com/jafechang/atlas/internal/parser"
)

func TestParse_StripsScriptsAndStyles(t *testing.T) {
	html := `<html><body>
<script>alert('x')</script>
<style>.a{color:red}</style>
<p>Real content.</p>
</body></html>`

	result, err := parser.Parse(html, nil, parser.Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if strings.Contains(result.Text, "alert") || strings.Contains(result.Text, "color:red") {
		t.Errorf("expected scripts/styles stripped, got %q", result.Text)
	}
	if !strings.Contains(result.Text, "Real content.") {
		t.Errorf("expected real content preserved, got %q", result.Text)
	}
}

func TestParse_CollapsesWhitespaceKeepsParagraphs(t *testing.T) {
	html := `<p>First   paragraph   with   spaces.</p><p>Second paragraph.</p>`
	result, err := parser.Parse(html, nil, parser.Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if strings.Contains(result.Text, "   ") {
		t.Errorf("expected whitespace collapsed, got %q", result.Text)
	}
	if !strings.Contains(result.Text, "\n") {
		t.Errorf("expected paragraph break preserved, got %q", result.Text)
	}
}

func TestParse_PreserveLinks(t *testing.T) {
	html := `<p><a href="https://example.com/x">link text</a></p>`
	result, err := parser.Parse(html, nil, parser.Options{PreserveLinks: true})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(result.Text, "link text (https://example.com/x)") {
		t.Errorf("expected anchor rendered as text (url), got %q", result.Text)
	}
}

func TestParse_IsDeterministic(t *testing.T) {
	html := `<p>Same input every time.</p>`
	a, err := parser.Parse(html, nil, parser.Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := parser.Parse(html, nil, parser.Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Text != b.Text || a.Quality.QualityScore != b.Quality.QualityScore {
		t.Error("expected Parse to be deterministic for identical input")
	}
}

func TestParse_QualityScorePenalizesRepetition(t *testing.T) {
	repeated := strings.Repeat("aaaaaaaaa bbbbbbbbb ccccccccc ddddddddd eeeeeeeee fffffffff ggggggggg hhhhhhhhh iiiiiiiii jjjjjjjjj ", 20)
	varied := strings.Repeat("the quick brown fox jumps over the lazy dog while observers watch carefully from a nearby hill ", 20)

	repeatedResult, err := parser.Parse("<p>"+repeated+"</p>", nil, parser.Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	variedResult, err := parser.Parse("<p>"+varied+"</p>", nil, parser.Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if repeatedResult.Quality.RepetitionRatio <= variedResult.Quality.RepetitionRatio {
		t.Errorf("expected repeated text to have a higher repetition ratio: repeated=%v varied=%v",
			repeatedResult.Quality.RepetitionRatio, variedResult.Quality.RepetitionRatio)
	}
	if repeatedResult.Quality.QualityScore >= variedResult.Quality.QualityScore {
		t.Errorf("expected repeated text to score lower: repeated=%v varied=%v",
			repeatedResult.Quality.QualityScore, variedResult.Quality.QualityScore)
	}
}

func TestParse_EmptyInputYieldsZeroLengthQuality(t *testing.T) {
	result, err := parser.Parse("", nil, parser.Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Quality.Length != 0 {
		t.Errorf("expected zero length, got %d", result.Quality.Length)
	}
}
