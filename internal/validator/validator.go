// Package validator runs structural and content-level checks over a
// processed document, producing leveled findings a caller uses to accept or
// reject it (§4.6).
package validator

import (
	"time"

	"github.com/jafechang/atlas/internal/domain/document"
)

// Level names the severity of a Finding.
type Level string

const (
	LevelError   Level = "ERROR"
	LevelWarning Level = "WARNING"
	LevelInfo    Level = "INFO"
)

// Finding is one check result.
type Finding struct {
	Level   Level
	Code    string
	Message string
}

// Input bundles the document views a Rule may need: Processed carries the
// canonicalized title/content, Raw carries source metadata and the original
// published date. A rule is a pure function of Input.
type Input struct {
	Raw       *document.Raw
	Processed *document.Processed
}

// Rule is a pure function of a document's Input, returning zero or more
// findings.
type Rule func(Input) []Finding

// Options configures the built-in rules.
type Options struct {
	MinContentLength int
	MaxContentLength int
	MaxFutureSkew    time.Duration // how far ahead of "now" published_at may be
	// RequiredMetadata maps source_type -> metadata keys that must be present
	// and non-empty in Raw.RawMetadata.
	RequiredMetadata map[string][]string
}

// DefaultOptions returns reasonable bounds absent configuration.
func DefaultOptions() Options {
	return Options{
		MinContentLength: 1,
		MaxContentLength: 1_000_000,
		MaxFutureSkew:    24 * time.Hour,
	}
}

// Validator runs a fixed set of built-in rules plus any registered custom
// rules over every document it's asked to check.
type Validator struct {
	opts  Options
	rules []Rule
	now   func() time.Time // overridable for tests
}

// New builds a Validator with the built-in rules from opts installed.
func New(opts Options) *Validator {
	v := &Validator{opts: opts, now: time.Now}
	v.rules = builtinRules(opts, func() time.Time { return v.now() })
	return v
}

// Register adds a custom rule, evaluated after the built-ins.
func (v *Validator) Register(r Rule) {
	v.rules = append(v.rules, r)
}

// Validate runs every rule over in and returns the combined findings plus
// whether the document is accepted (no ERROR findings).
func (v *Validator) Validate(in Input) (findings []Finding, accepted bool) {
	accepted = true
	for _, rule := range v.rules {
		for _, f := range rule(in) {
			findings = append(findings, f)
			if f.Level == LevelError {
				accepted = false
			}
		}
	}
	return findings, accepted
}
