package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jafechang/atlas/internal/adapter/postgres"
	"github.com/jafechang/atlas/internal/domain"
	"github.com/jafechang/atlas/internal/domain/cronjob"
	"github.com/jafechang/atlas/internal/domain/document"
	"github.com/jafechang/atlas/internal/domain/source"
	"github.com/jafechang/atlas/internal/domain/task"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func testSource(name string) *source.Config {
	return &source.Config{
		Name:           name,
		SourceType:     source.TypeRSS,
		URL:            "https://example.com/" + name + "/feed.xml",
		Tags:           []string{"tech", "news"},
		Category:       "technology",
		Enabled:        true,
		Interval:       5 * time.Minute,
		MaxItemsPerRun: 50,
		RetryCount:     3,
		Timeout:        10 * time.Second,
	}
}

func TestStorePutGetSource(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	want := testSource("put-get-" + uuid.New().String()[:8])
	if err := store.PutSource(ctx, want); err != nil {
		t.Fatalf("PutSource: %v", err)
	}

	got, err := store.GetSource(ctx, want.Name)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.URL != want.URL || got.SourceType != want.SourceType || got.Interval != want.Interval {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestStoreGetSourceNotFound(t *testing.T) {
	store := setupStore(t)
	_, err := store.GetSource(context.Background(), "does-not-exist-"+uuid.New().String())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorePutSourceUpsert(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	cfg := testSource("upsert-" + uuid.New().String()[:8])
	if err := store.PutSource(ctx, cfg); err != nil {
		t.Fatalf("PutSource initial: %v", err)
	}

	cfg.Enabled = false
	cfg.MaxItemsPerRun = 10
	if err := store.PutSource(ctx, cfg); err != nil {
		t.Fatalf("PutSource upsert: %v", err)
	}

	got, err := store.GetSource(ctx, cfg.Name)
	if err != nil {
		t.Fatalf("GetSource: %v", err)
	}
	if got.Enabled || got.MaxItemsPerRun != 10 {
		t.Errorf("expected upsert to apply, got %+v", got)
	}
}

func TestStoreRawDocumentLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	src := testSource("raw-doc-src-" + uuid.New().String()[:8])
	if err := store.PutSource(ctx, src); err != nil {
		t.Fatalf("PutSource: %v", err)
	}

	raw := &document.Raw{
		ID:               uuid.NewString(),
		SourceID:         src.Name,
		SourceURL:        src.URL,
		SourceType:       string(src.SourceType),
		CollectedAt:      time.Now().UTC().Truncate(time.Second),
		CollectorVersion: "v1",
		RawContent:       "<item>hello</item>",
		ContentHash:      "deadbeef",
		Title:            "Hello",
		ProcessingStatus: document.ProcessingPending,
	}
	if err := store.PutRaw(ctx, raw); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}

	got, err := store.GetRaw(ctx, raw.ID)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if got.ContentHash != raw.ContentHash || got.ProcessingStatus != document.ProcessingPending {
		t.Errorf("got %+v, want %+v", got, raw)
	}

	if err := store.UpdateRawStatus(ctx, raw.ID, document.ProcessingInProgress, 1, ""); err != nil {
		t.Fatalf("UpdateRawStatus: %v", err)
	}
	got, err = store.GetRaw(ctx, raw.ID)
	if err != nil {
		t.Fatalf("GetRaw after update: %v", err)
	}
	if got.ProcessingStatus != document.ProcessingInProgress || got.ProcessingAttempts != 1 {
		t.Errorf("expected processing/1 attempt, got %+v", got)
	}
}

func TestStoreIterPendingOnlyReturnsUnprocessed(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	src := testSource("pending-src-" + uuid.New().String()[:8])
	if err := store.PutSource(ctx, src); err != nil {
		t.Fatalf("PutSource: %v", err)
	}

	pending := &document.Raw{
		ID: uuid.NewString(), SourceID: src.Name, SourceURL: src.URL, SourceType: string(src.SourceType),
		CollectedAt: time.Now().UTC(), CollectorVersion: "v1", RawContent: "a", ContentHash: uuid.NewString(),
		ProcessingStatus: document.ProcessingPending,
	}
	done := &document.Raw{
		ID: uuid.NewString(), SourceID: src.Name, SourceURL: src.URL, SourceType: string(src.SourceType),
		CollectedAt: time.Now().UTC(), CollectorVersion: "v1", RawContent: "b", ContentHash: uuid.NewString(),
		ProcessingStatus: document.ProcessingDone,
	}
	if err := store.PutRaw(ctx, pending); err != nil {
		t.Fatalf("PutRaw pending: %v", err)
	}
	if err := store.PutRaw(ctx, done); err != nil {
		t.Fatalf("PutRaw done: %v", err)
	}

	results, err := store.IterPending(ctx, 1000)
	if err != nil {
		t.Fatalf("IterPending: %v", err)
	}
	for _, r := range results {
		if r.ID == done.ID {
			t.Errorf("IterPending returned an already-processed document %s", done.ID)
		}
	}
}

func TestStoreProcessedDocumentRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	src := testSource("processed-src-" + uuid.New().String()[:8])
	if err := store.PutSource(ctx, src); err != nil {
		t.Fatalf("PutSource: %v", err)
	}
	raw := &document.Raw{
		ID: uuid.NewString(), SourceID: src.Name, SourceURL: src.URL, SourceType: string(src.SourceType),
		CollectedAt: time.Now().UTC(), CollectorVersion: "v1", RawContent: "content", ContentHash: uuid.NewString(),
		ProcessingStatus: document.ProcessingPending,
	}
	if err := store.PutRaw(ctx, raw); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}

	groupID := "group-" + uuid.New().String()[:8]
	proc := &document.Processed{
		ID:                uuid.NewString(),
		RawDocumentID:     raw.ID,
		Title:             "Hello",
		Content:           "normalized content",
		ProcessedAt:       time.Now().UTC(),
		ProcessorVersion:  "v1",
		SimilarityGroupID: &groupID,
		SimilarityScore:   0.95,
		IsDuplicate:       true,
		QualityScore:      80,
		RelevanceScore:    0.7,
	}
	if err := store.PutProcessed(ctx, proc); err != nil {
		t.Fatalf("PutProcessed: %v", err)
	}

	got, err := store.GetProcessedByRawID(ctx, raw.ID)
	if err != nil {
		t.Fatalf("GetProcessedByRawID: %v", err)
	}
	if got.Title != proc.Title || got.SimilarityGroupID == nil || *got.SimilarityGroupID != groupID {
		t.Errorf("got %+v, want %+v", got, proc)
	}

	group, err := store.IterGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("IterGroup: %v", err)
	}
	if len(group) != 1 || group[0].ID != proc.ID {
		t.Errorf("expected 1 document in group %s, got %d", groupID, len(group))
	}
}

func TestStoreTaskStatusLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	tk := &task.Task{
		ID:         uuid.NewString(),
		Name:       "collect-example",
		Priority:   task.PriorityNormal,
		CreatedAt:  time.Now().UTC(),
		Status:     task.StatusPending,
		MaxRetries: 2,
	}
	if err := store.PutTaskStatus(ctx, tk); err != nil {
		t.Fatalf("PutTaskStatus: %v", err)
	}

	tk.Status = task.StatusRunning
	tk.StartedAt = time.Now().UTC()
	tk.Attempts = 1
	if err := store.PutTaskStatus(ctx, tk); err != nil {
		t.Fatalf("PutTaskStatus update: %v", err)
	}

	got, err := store.GetTaskStatus(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if got.Status != task.StatusRunning || got.Attempts != 1 {
		t.Errorf("got %+v, want running/1 attempt", got)
	}
}

func TestStoreCronJobLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	job := &cronjob.Job{
		Name:           "nightly-" + uuid.New().String()[:8],
		CronExpression: "0 2 * * *",
		Enabled:        true,
		FuncKey:        "collect_all",
		NextRunAt:      time.Now().Add(time.Hour).UTC(),
	}
	if err := store.PutCronJob(ctx, job); err != nil {
		t.Fatalf("PutCronJob: %v", err)
	}

	job.RunCount = 1
	job.SuccessCount = 1
	job.LastRunAt = time.Now().UTC()
	job.NextRunAt = time.Now().Add(24 * time.Hour).UTC()
	if err := store.UpdateCronJobRun(ctx, job); err != nil {
		t.Fatalf("UpdateCronJobRun: %v", err)
	}

	jobs, err := store.ListCronJobs(ctx)
	if err != nil {
		t.Fatalf("ListCronJobs: %v", err)
	}
	found := false
	for _, j := range jobs {
		if j.Name == job.Name {
			found = true
			if j.RunCount != 1 || j.SuccessCount != 1 {
				t.Errorf("expected run counts to persist, got %+v", j)
			}
		}
	}
	if !found {
		t.Errorf("expected job %s in ListCronJobs", job.Name)
	}
}
