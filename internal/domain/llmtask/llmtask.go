// Package llmtask defines the LLMTask domain entity submitted to LLMQueue.
package llmtask

import (
	"time"

	"github.com/jafechang/atlas/internal/domain/task"
)

// Type names the kind of LLM work a task performs.
type Type string

const (
	TypeGenerate      Type = "generate"
	TypeEmbed         Type = "embed"
	TypeSemanticDedup Type = "semantic_dedup"
	TypeBatchProcess  Type = "batch_process"
)

// Task is a unit of LLM work. Tasks sharing the same non-empty CacheKey may
// be served from a single result rather than calling the model twice.
type Task struct {
	ID         string        `json:"id"`
	Type       Type          `json:"type"`
	Priority   task.Priority `json:"priority"`
	Payload    any           `json:"payload"`
	SubmitTime time.Time     `json:"submit_time"`
	Deadline   time.Time     `json:"deadline,omitempty"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	CacheKey   string        `json:"cache_key,omitempty"`
}

// Late reports whether now has passed Deadline. A zero Deadline never
// expires.
func (t *Task) Late(now time.Time) bool {
	return !t.Deadline.IsZero() && now.After(t.Deadline)
}

// Cacheable reports whether this task's result may be shared with other
// tasks bearing the same cache key.
func (t *Task) Cacheable() bool {
	return t.CacheKey != ""
}
