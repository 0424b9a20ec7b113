// Package task defines the Task domain entity shared by TaskQueue (C8) and
// LLMQueue (C11).
package task

import "time"

// Priority orders tasks inside TaskQueue's min-heap: lower values run first.
type Priority int

const (
	PriorityUrgent Priority = 0
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimeout   Status = "timeout"
	StatusRetrying  Status = "retrying"
)

// Terminal reports whether status is one from which no further transition
// is possible (success, failed, cancelled, timeout).
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	default:
		return false
	}
}

// Task is a unit of work submitted to TaskQueue. Attempts never exceeds
// MaxRetries+1; once Status.Terminal() is true the task never transitions
// again.
type Task struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Priority       Priority      `json:"priority"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	CompletedAt    time.Time     `json:"completed_at,omitempty"`
	Status         Status        `json:"status"`
	Attempts       int           `json:"attempts"`
	MaxRetries     int           `json:"max_retries"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	Payload        any           `json:"payload,omitempty"`
	Result         any           `json:"result,omitempty"`
}

// Timeout returns TimeoutSeconds as a time.Duration.
func (t *Task) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}
