// Package persistence defines the durable storage port (interface) for
// Atlas's entities. internal/adapter/postgres is its reference implementation.
package persistence

import (
	"context"

	"github.com/jafechang/atlas/internal/domain/cronjob"
	"github.com/jafechang/atlas/internal/domain/document"
	"github.com/jafechang/atlas/internal/domain/source"
	"github.com/jafechang/atlas/internal/domain/task"
)

// Store is the port interface for durable entity storage. SourceConfig is
// read-only to every component after load; RawDocument.raw_content and
// content_hash never change after the initial PutRaw; ProcessedDocument is
// written once per RawDocument (1:1).
type Store interface {
	// Sources
	PutSource(ctx context.Context, s *source.Config) error
	ListSources(ctx context.Context) ([]source.Config, error)
	GetSource(ctx context.Context, name string) (*source.Config, error)

	// Raw documents
	PutRaw(ctx context.Context, d *document.Raw) error
	GetRaw(ctx context.Context, id string) (*document.Raw, error)
	UpdateRawStatus(ctx context.Context, id string, status document.ProcessingStatus, attempts int, procErr string) error
	// IterPending returns raw documents awaiting processing, oldest first,
	// up to limit.
	IterPending(ctx context.Context, limit int) ([]document.Raw, error)

	// Processed documents
	PutProcessed(ctx context.Context, d *document.Processed) error
	GetProcessedByRawID(ctx context.Context, rawID string) (*document.Processed, error)
	// IterGroup returns every processed document sharing a similarity
	// group, used by Deduplicator to compare a candidate against its
	// existing cluster.
	IterGroup(ctx context.Context, groupID string) ([]document.Processed, error)
	// RecentByHash returns processed documents whose raw content_hash
	// matches, used for the exact-hash dedup pass.
	RecentByHash(ctx context.Context, contentHash string) ([]document.Processed, error)

	// Tasks (StatusManager's durable record; TaskQueue itself is in-memory)
	PutTaskStatus(ctx context.Context, t *task.Task) error
	GetTaskStatus(ctx context.Context, id string) (*task.Task, error)
	ListTaskStatus(ctx context.Context, limit int) ([]task.Task, error)

	// Cron jobs
	PutCronJob(ctx context.Context, j *cronjob.Job) error
	ListCronJobs(ctx context.Context) ([]cronjob.Job, error)
	UpdateCronJobRun(ctx context.Context, j *cronjob.Job) error
}
