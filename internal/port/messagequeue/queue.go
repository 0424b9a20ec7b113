// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by Atlas. The dashboard (an
// out-of-scope external consumer) subscribes to these rather than polling
// StatusManager's snapshot file.
const (
	// SubjectTaskStatus carries every TaskQueue lifecycle transition
	// (pending -> running -> success|failed|cancelled|timeout|retrying).
	SubjectTaskStatus = "atlas.tasks.status"

	// SubjectCronFired is published once per coalesced cron dispatch, after
	// the due CronJob's task has been submitted to TaskQueue.
	SubjectCronFired = "atlas.cron.fired"

	// SubjectLLMCircuit carries AdaptiveController state transitions
	// (NORMAL/SCALED_UP/SCALED_DOWN/CIRCUIT_OPEN/EMERGENCY_STOP). LLMClient's
	// own breaker does not publish on it.
	SubjectLLMCircuit = "atlas.llm.circuit"

	// SubjectCollectionComplete marks the end of one Collector run for a
	// source, with counts of raw documents produced.
	SubjectCollectionComplete = "atlas.collection.complete"
)
