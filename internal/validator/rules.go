package validator

import (
	"net/url"
	"time"
)

// builtinRules returns the rules named in §4.6: non-empty title, content
// length bounds, URL well-formedness, published_at not in the far future,
// and required metadata fields per source_type.
func builtinRules(opts Options, now func() time.Time) []Rule {
	return []Rule{
		ruleNonEmptyTitle,
		ruleContentLength(opts.MinContentLength, opts.MaxContentLength),
		ruleURLWellFormed,
		rulePublishedNotFarFuture(opts.MaxFutureSkew, now),
		ruleRequiredMetadata(opts.RequiredMetadata),
	}
}

func ruleNonEmptyTitle(in Input) []Finding {
	if in.Processed == nil || in.Processed.Title == "" {
		return []Finding{{Level: LevelError, Code: "empty_title", Message: "document title is empty"}}
	}
	return nil
}

func ruleContentLength(min, max int) Rule {
	return func(in Input) []Finding {
		if in.Processed == nil {
			return nil
		}
		n := len(in.Processed.Content)
		if n < min {
			return []Finding{{Level: LevelError, Code: "content_too_short",
				Message: "content shorter than the configured minimum"}}
		}
		if max > 0 && n > max {
			return []Finding{{Level: LevelError, Code: "content_too_long",
				Message: "content longer than the configured maximum"}}
		}
		return nil
	}
}

func ruleURLWellFormed(in Input) []Finding {
	if in.Raw == nil || in.Raw.SourceURL == "" {
		return []Finding{{Level: LevelError, Code: "missing_url", Message: "source_url is empty"}}
	}
	u, err := url.Parse(in.Raw.SourceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []Finding{{Level: LevelError, Code: "malformed_url",
			Message: "source_url is not a well-formed absolute URL"}}
	}
	return nil
}

func rulePublishedNotFarFuture(skew time.Duration, now func() time.Time) Rule {
	return func(in Input) []Finding {
		if in.Raw == nil || in.Raw.PublishedAt.IsZero() {
			return nil
		}
		if in.Raw.PublishedAt.After(now().Add(skew)) {
			return []Finding{{Level: LevelWarning, Code: "published_in_future",
				Message: "published_at is further in the future than allowed"}}
		}
		return nil
	}
}

func ruleRequiredMetadata(required map[string][]string) Rule {
	return func(in Input) []Finding {
		if in.Raw == nil || len(required) == 0 {
			return nil
		}
		keys, ok := required[in.Raw.SourceType]
		if !ok {
			return nil
		}
		var findings []Finding
		for _, key := range keys {
			if v, present := in.Raw.RawMetadata[key]; !present || v == "" {
				findings = append(findings, Finding{Level: LevelError, Code: "missing_metadata",
					Message: "required metadata field " + key + " is missing for source_type " + in.Raw.SourceType})
			}
		}
		return findings
	}
}
