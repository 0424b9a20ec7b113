package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jafechang/atlas/internal/domain/cronjob"
	"github.com/jafechang/atlas/internal/domain/document"
	"github.com/jafechang/atlas/internal/domain/source"
	"github.com/jafechang/atlas/internal/domain/task"
)

// Store implements persistence.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Sources ---

func (s *Store) PutSource(ctx context.Context, c *source.Config) error {
	selectorsJSON, err := json.Marshal(c.Selectors)
	if err != nil {
		return fmt.Errorf("marshal selectors: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sources (name, source_type, url, tags, category, enabled, interval_seconds,
		                       max_items_per_run, retry_count, timeout_seconds, selectors, user_agent, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		 ON CONFLICT (name) DO UPDATE SET
		   source_type = EXCLUDED.source_type, url = EXCLUDED.url, tags = EXCLUDED.tags,
		   category = EXCLUDED.category, enabled = EXCLUDED.enabled, interval_seconds = EXCLUDED.interval_seconds,
		   max_items_per_run = EXCLUDED.max_items_per_run, retry_count = EXCLUDED.retry_count,
		   timeout_seconds = EXCLUDED.timeout_seconds, selectors = EXCLUDED.selectors,
		   user_agent = EXCLUDED.user_agent, updated_at = now()`,
		c.Name, string(c.SourceType), c.URL, pgTextArray(c.Tags), c.Category, c.Enabled,
		int(c.Interval.Seconds()), c.MaxItemsPerRun, c.RetryCount, int(c.Timeout.Seconds()),
		selectorsJSON, c.UserAgent)
	if err != nil {
		return fmt.Errorf("put source %s: %w", c.Name, err)
	}
	return nil
}

func (s *Store) ListSources(ctx context.Context) ([]source.Config, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, source_type, url, tags, category, enabled, interval_seconds,
		        max_items_per_run, retry_count, timeout_seconds, selectors, user_agent
		 FROM sources ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []source.Config
	for rows.Next() {
		c, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetSource(ctx context.Context, name string) (*source.Config, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT name, source_type, url, tags, category, enabled, interval_seconds,
		        max_items_per_run, retry_count, timeout_seconds, selectors, user_agent
		 FROM sources WHERE name = $1`, name)

	c, err := scanSource(row)
	if err != nil {
		return nil, notFoundWrap(err, "get source %s", name)
	}
	return &c, nil
}

func scanSource(row scannable) (source.Config, error) {
	var c source.Config
	var intervalSec, timeoutSec int
	var selectorsJSON []byte
	err := row.Scan(&c.Name, &c.SourceType, &c.URL, &c.Tags, &c.Category, &c.Enabled, &intervalSec,
		&c.MaxItemsPerRun, &c.RetryCount, &timeoutSec, &selectorsJSON, &c.UserAgent)
	if err != nil {
		return c, err
	}
	c.Interval = secondsToDuration(intervalSec)
	c.Timeout = secondsToDuration(timeoutSec)
	if len(selectorsJSON) > 0 {
		if err := json.Unmarshal(selectorsJSON, &c.Selectors); err != nil {
			return c, fmt.Errorf("unmarshal selectors: %w", err)
		}
	}
	return c, nil
}

// --- Raw documents ---

func (s *Store) PutRaw(ctx context.Context, d *document.Raw) error {
	metaJSON, err := json.Marshal(orEmptyMap(d.RawMetadata))
	if err != nil {
		return fmt.Errorf("marshal raw_metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO raw_documents (id, source_id, source_url, source_type, collected_at, collector_version,
		                            raw_content, raw_metadata, content_hash, title, author, published_at,
		                            language, processing_status, processing_attempts, processing_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO NOTHING`,
		d.ID, d.SourceID, d.SourceURL, d.SourceType, d.CollectedAt, d.CollectorVersion,
		d.RawContent, metaJSON, d.ContentHash, d.Title, d.Author, nullTime(d.PublishedAt),
		d.Language, string(d.ProcessingStatus), d.ProcessingAttempts, d.ProcessingError)
	if err != nil {
		return fmt.Errorf("put raw document %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) GetRaw(ctx context.Context, id string) (*document.Raw, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source_id, source_url, source_type, collected_at, collector_version,
		        raw_content, raw_metadata, content_hash, title, author, published_at,
		        language, processing_status, processing_attempts, processing_error
		 FROM raw_documents WHERE id = $1`, id)

	d, err := scanRaw(row)
	if err != nil {
		return nil, notFoundWrap(err, "get raw document %s", id)
	}
	return &d, nil
}

func (s *Store) UpdateRawStatus(ctx context.Context, id string, status document.ProcessingStatus, attempts int, procErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_documents SET processing_status = $2, processing_attempts = $3, processing_error = $4
		 WHERE id = $1`,
		id, string(status), attempts, procErr)
	return execExpectOne(tag, err, "update raw status %s", id)
}

func (s *Store) IterPending(ctx context.Context, limit int) ([]document.Raw, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, source_url, source_type, collected_at, collector_version,
		        raw_content, raw_metadata, content_hash, title, author, published_at,
		        language, processing_status, processing_attempts, processing_error
		 FROM raw_documents WHERE processing_status = 'pending'
		 ORDER BY collected_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("iter pending raw documents: %w", err)
	}
	defer rows.Close()

	var out []document.Raw
	for rows.Next() {
		d, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanRaw(row scannable) (document.Raw, error) {
	var d document.Raw
	var metaJSON []byte
	var publishedAt *time.Time
	err := row.Scan(&d.ID, &d.SourceID, &d.SourceURL, &d.SourceType, &d.CollectedAt, &d.CollectorVersion,
		&d.RawContent, &metaJSON, &d.ContentHash, &d.Title, &d.Author, &publishedAt,
		&d.Language, &d.ProcessingStatus, &d.ProcessingAttempts, &d.ProcessingError)
	if err != nil {
		return d, err
	}
	if publishedAt != nil {
		d.PublishedAt = *publishedAt
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &d.RawMetadata); err != nil {
			return d, fmt.Errorf("unmarshal raw_metadata: %w", err)
		}
	}
	return d, nil
}

// --- Processed documents ---

func (s *Store) PutProcessed(ctx context.Context, d *document.Processed) error {
	structJSON, err := json.Marshal(orEmptyMapAny(d.StructuredContent))
	if err != nil {
		return fmt.Errorf("marshal structured_content: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO processed_documents (id, raw_document_id, title, summary, content, structured_content,
		                                   entities, keywords, categories, processed_at, processor_version,
		                                   similarity_group_id, similarity_score, is_duplicate, quality_score, relevance_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (raw_document_id) DO UPDATE SET
		   title = EXCLUDED.title, summary = EXCLUDED.summary, content = EXCLUDED.content,
		   structured_content = EXCLUDED.structured_content, entities = EXCLUDED.entities,
		   keywords = EXCLUDED.keywords, categories = EXCLUDED.categories, processed_at = EXCLUDED.processed_at,
		   processor_version = EXCLUDED.processor_version, similarity_group_id = EXCLUDED.similarity_group_id,
		   similarity_score = EXCLUDED.similarity_score, is_duplicate = EXCLUDED.is_duplicate,
		   quality_score = EXCLUDED.quality_score, relevance_score = EXCLUDED.relevance_score`,
		d.ID, d.RawDocumentID, d.Title, d.Summary, d.Content, structJSON,
		pgTextArray(d.Entities), pgTextArray(d.Keywords), pgTextArray(d.Categories), d.ProcessedAt, d.ProcessorVersion,
		d.SimilarityGroupID, d.SimilarityScore, d.IsDuplicate, d.QualityScore, d.RelevanceScore)
	if err != nil {
		return fmt.Errorf("put processed document %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) GetProcessedByRawID(ctx context.Context, rawID string) (*document.Processed, error) {
	row := s.pool.QueryRow(ctx, processedSelect+` WHERE raw_document_id = $1`, rawID)
	d, err := scanProcessed(row)
	if err != nil {
		return nil, notFoundWrap(err, "get processed document for raw %s", rawID)
	}
	return &d, nil
}

func (s *Store) IterGroup(ctx context.Context, groupID string) ([]document.Processed, error) {
	rows, err := s.pool.Query(ctx, processedSelect+` WHERE similarity_group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("iter group %s: %w", groupID, err)
	}
	defer rows.Close()
	return scanProcessedRows(rows)
}

func (s *Store) RecentByHash(ctx context.Context, contentHash string) ([]document.Processed, error) {
	rows, err := s.pool.Query(ctx,
		processedSelect+` JOIN raw_documents r ON r.id = processed_documents.raw_document_id
		 WHERE r.content_hash = $1`, contentHash)
	if err != nil {
		return nil, fmt.Errorf("recent by hash: %w", err)
	}
	defer rows.Close()
	return scanProcessedRows(rows)
}

const processedSelect = `SELECT id, raw_document_id, title, summary, content, structured_content,
	        entities, keywords, categories, processed_at, processor_version,
	        similarity_group_id, similarity_score, is_duplicate, quality_score, relevance_score
	 FROM processed_documents`

func scanProcessedRows(rows pgx.Rows) ([]document.Processed, error) {
	var out []document.Processed
	for rows.Next() {
		d, err := scanProcessed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanProcessed(row scannable) (document.Processed, error) {
	var d document.Processed
	var structJSON []byte
	err := row.Scan(&d.ID, &d.RawDocumentID, &d.Title, &d.Summary, &d.Content, &structJSON,
		&d.Entities, &d.Keywords, &d.Categories, &d.ProcessedAt, &d.ProcessorVersion,
		&d.SimilarityGroupID, &d.SimilarityScore, &d.IsDuplicate, &d.QualityScore, &d.RelevanceScore)
	if err != nil {
		return d, err
	}
	if len(structJSON) > 0 {
		if err := json.Unmarshal(structJSON, &d.StructuredContent); err != nil {
			return d, fmt.Errorf("unmarshal structured_content: %w", err)
		}
	}
	return d, nil
}

// --- Task status ---

func (s *Store) PutTaskStatus(ctx context.Context, t *task.Task) error {
	payloadJSON, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO task_status (id, name, priority, created_at, started_at, completed_at, status,
		                          attempts, max_retries, timeout_seconds, error_message, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at, status = EXCLUDED.status,
		   attempts = EXCLUDED.attempts, error_message = EXCLUDED.error_message`,
		t.ID, t.Name, int(t.Priority), t.CreatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt),
		string(t.Status), t.Attempts, t.MaxRetries, t.TimeoutSeconds, t.ErrorMessage, payloadJSON)
	if err != nil {
		return fmt.Errorf("put task status %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) GetTaskStatus(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, taskStatusSelect+` WHERE id = $1`, id)
	t, err := scanTaskStatus(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task status %s", id)
	}
	return &t, nil
}

func (s *Store) ListTaskStatus(ctx context.Context, limit int) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, taskStatusSelect+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list task status: %w", err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTaskStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const taskStatusSelect = `SELECT id, name, priority, created_at, started_at, completed_at, status,
	        attempts, max_retries, timeout_seconds, error_message, payload
	 FROM task_status`

func scanTaskStatus(row scannable) (task.Task, error) {
	var t task.Task
	var startedAt, completedAt *time.Time
	var payloadJSON []byte
	var priority int
	err := row.Scan(&t.ID, &t.Name, &priority, &t.CreatedAt, &startedAt, &completedAt, &t.Status,
		&t.Attempts, &t.MaxRetries, &t.TimeoutSeconds, &t.ErrorMessage, &payloadJSON)
	if err != nil {
		return t, err
	}
	t.Priority = task.Priority(priority)
	if startedAt != nil {
		t.StartedAt = *startedAt
	}
	if completedAt != nil {
		t.CompletedAt = *completedAt
	}
	if len(payloadJSON) > 0 && string(payloadJSON) != "null" {
		if err := json.Unmarshal(payloadJSON, &t.Payload); err != nil {
			return t, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return t, nil
}

// --- Cron jobs ---

func (s *Store) PutCronJob(ctx context.Context, j *cronjob.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cron_jobs (name, cron_expression, enabled, func_key, last_run_at, next_run_at,
		                        run_count, success_count, failure_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (name) DO UPDATE SET
		   cron_expression = EXCLUDED.cron_expression, enabled = EXCLUDED.enabled, func_key = EXCLUDED.func_key,
		   next_run_at = EXCLUDED.next_run_at`,
		j.Name, j.CronExpression, j.Enabled, j.FuncKey, nullTime(j.LastRunAt), j.NextRunAt,
		j.RunCount, j.SuccessCount, j.FailureCount)
	if err != nil {
		return fmt.Errorf("put cron job %s: %w", j.Name, err)
	}
	return nil
}

func (s *Store) ListCronJobs(ctx context.Context) ([]cronjob.Job, error) {
	rows, err := s.pool.Query(ctx, cronJobSelect+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()

	var out []cronjob.Job
	for rows.Next() {
		j, err := scanCronJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCronJobRun(ctx context.Context, j *cronjob.Job) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cron_jobs SET last_run_at = $2, next_run_at = $3, run_count = $4,
		                       success_count = $5, failure_count = $6
		 WHERE name = $1`,
		j.Name, nullTime(j.LastRunAt), j.NextRunAt, j.RunCount, j.SuccessCount, j.FailureCount)
	return execExpectOne(tag, err, "update cron job run %s", j.Name)
}

const cronJobSelect = `SELECT name, cron_expression, enabled, func_key, last_run_at, next_run_at,
	        run_count, success_count, failure_count
	 FROM cron_jobs`

func scanCronJob(row scannable) (cronjob.Job, error) {
	var j cronjob.Job
	var lastRunAt *time.Time
	err := row.Scan(&j.Name, &j.CronExpression, &j.Enabled, &j.FuncKey, &lastRunAt, &j.NextRunAt,
		&j.RunCount, &j.SuccessCount, &j.FailureCount)
	if err != nil {
		return j, err
	}
	if lastRunAt != nil {
		j.LastRunAt = *lastRunAt
	}
	return j, nil
}
