package messagequeue

// TaskStatusPayload is the schema for atlas.tasks.status messages, published
// on every TaskQueue lifecycle transition.
type TaskStatusPayload struct {
	TaskID    string `json:"task_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Attempt   int    `json:"attempt"`
	Error     string `json:"error,omitempty"`
	UpdatedAt string `json:"updated_at"` // RFC3339
}

// CronFiredPayload is the schema for atlas.cron.fired messages.
type CronFiredPayload struct {
	JobID       string `json:"job_id"`
	JobName     string `json:"job_name"`
	ScheduledAt string `json:"scheduled_at"` // RFC3339, the fire time that was due
	TaskID      string `json:"task_id"`      // the TaskQueue task submitted for this fire
}

// LLMCircuitPayload is the schema for atlas.llm.circuit messages.
type LLMCircuitPayload struct {
	Source     string `json:"source"` // "adaptive_controller" | "llm_client_breaker"
	FromState  string `json:"from_state"`
	ToState    string `json:"to_state"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at"` // RFC3339
}

// CollectionCompletePayload is the schema for atlas.collection.complete messages.
type CollectionCompletePayload struct {
	SourceName  string `json:"source_name"`
	RawCount    int    `json:"raw_count"`
	ErrorCount  int    `json:"error_count"`
	CompletedAt string `json:"completed_at"` // RFC3339
}
