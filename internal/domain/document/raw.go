// Package document defines RawDocument and ProcessedDocument, the two
// content entities that flow through collection, parsing, and dedup.
package document

import "time"

// ProcessingStatus tracks a RawDocument through the parse pipeline. It is
// monotonic: pending -> processing -> (processed | failed), never backward.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingDone       ProcessingStatus = "processed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// Advance reports whether moving from s to next is a legal monotonic
// transition.
func (s ProcessingStatus) Advance(next ProcessingStatus) bool {
	order := map[ProcessingStatus]int{
		ProcessingPending:    0,
		ProcessingInProgress: 1,
		ProcessingDone:       2,
		ProcessingFailed:     2,
	}
	cur, ok := order[s]
	if !ok {
		return false
	}
	nxt, ok := order[next]
	if !ok {
		return false
	}
	return nxt > cur || (s == ProcessingInProgress && (next == ProcessingDone || next == ProcessingFailed))
}

// Raw is the as-collected, unmodified content pulled from a source. Its
// RawContent and ContentHash never change once stored; only ProcessingStatus
// and ProcessingAttempts/ProcessingError mutate after insertion.
type Raw struct {
	ID                 string            `json:"id"`
	SourceID           string            `json:"source_id"` // FK to source.Config.Name
	SourceURL          string            `json:"source_url"`
	SourceType         string            `json:"source_type"`
	CollectedAt        time.Time         `json:"collected_at"`
	CollectorVersion   string            `json:"collector_version"`
	RawContent         string            `json:"raw_content"`
	RawMetadata        map[string]string `json:"raw_metadata,omitempty"`
	ContentHash        string            `json:"content_hash"` // sha256 of canonical content
	Title              string            `json:"title,omitempty"`
	Author             string            `json:"author,omitempty"`
	PublishedAt        time.Time         `json:"published_at,omitempty"`
	Language           string            `json:"language,omitempty"`
	ProcessingStatus   ProcessingStatus  `json:"processing_status"`
	ProcessingAttempts int               `json:"processing_attempts"`
	ProcessingError    string            `json:"processing_error,omitempty"`
}
