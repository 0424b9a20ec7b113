// Command atlas runs the content-aggregation collection core: source
// collection, parsing, validation, deduplication, LLM-assisted enrichment,
// and task/cron scheduling, wired against Postgres, NATS, and a local
// inference endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jafechang/atlas/internal/adapter/collector/rss"
	"github.com/jafechang/atlas/internal/adapter/collector/web"
	"github.com/jafechang/atlas/internal/adapter/nats"
	"github.com/jafechang/atlas/internal/adapter/postgres"
	"github.com/jafechang/atlas/internal/adapter/ristretto"
	"github.com/jafechang/atlas/internal/adapter/tiered"
	"github.com/jafechang/atlas/internal/adaptive"
	"github.com/jafechang/atlas/internal/config"
	"github.com/jafechang/atlas/internal/cron"
	"github.com/jafechang/atlas/internal/dedup"
	"github.com/jafechang/atlas/internal/domain/llmtask"
	"github.com/jafechang/atlas/internal/domain/source"
	"github.com/jafechang/atlas/internal/domain/task"
	"github.com/jafechang/atlas/internal/httpclient"
	"github.com/jafechang/atlas/internal/llm"
	"github.com/jafechang/atlas/internal/llmqueue"
	"github.com/jafechang/atlas/internal/logger"
	"github.com/jafechang/atlas/internal/pipeline"
	"github.com/jafechang/atlas/internal/port/collector"
	"github.com/jafechang/atlas/internal/queue"
	"github.com/jafechang/atlas/internal/ratelimit"
	"github.com/jafechang/atlas/internal/resilience"
	sourcereg "github.com/jafechang/atlas/internal/source"
	"github.com/jafechang/atlas/internal/status"
	"github.com/jafechang/atlas/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("atlas exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	store := postgres.NewStore(pool)

	mq, err := nats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	mq.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	defer mq.Close()

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB * 1 << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	l2, err := ristretto.New(4 * cfg.Cache.L1MaxSizeMB * 1 << 20)
	if err != nil {
		return fmt.Errorf("l2 cache: %w", err)
	}
	defer l2.Close()
	// l1Expire of 0 means every Set lands in both tiers at the caller's TTL;
	// L1 exists purely as a smaller, faster-evicting front for L2's larger
	// budget, not as a shorter-lived tier of its own.
	sharedCache := tiered.New(l1, l2, 0)

	httpBreaker := resilience.NewBreaker(cfg.HTTPClient.BreakerMaxFailures, cfg.HTTPClient.BreakerTimeout)
	httpClient := httpclient.New(httpclient.Options{
		Timeout:     cfg.HTTPClient.Timeout,
		MaxAttempts: cfg.HTTPClient.MaxAttempts,
		BaseDelay:   cfg.HTTPClient.BaseDelay,
		CacheTTL:    cfg.HTTPClient.CacheTTL,
	}, sharedCache, httpBreaker)

	limiter := ratelimit.New(ratelimit.Policy{
		Algorithm:     ratelimit.Algorithm(cfg.RateLimit.Algorithm),
		Rate:          cfg.RateLimit.RequestsPerSec,
		Window:        time.Second,
		Burst:         cfg.RateLimit.Burst,
		AdaptiveAlpha: ternaryAlpha(cfg.RateLimit.AdaptiveEnabled, cfg.RateLimit.AdaptiveAlpha),
	})

	sourceRegistry, err := sourcereg.NewRegistry(cfg.Sources.ConfigPath)
	if err != nil {
		return fmt.Errorf("source registry: %w", err)
	}
	uaRegistry, err := sourcereg.NewUARegistry()
	if err != nil {
		return fmt.Errorf("user-agent registry: %w", err)
	}

	rateLimitedFetch := func(domainKey string, fn func() (*httpclient.Response, error)) (*httpclient.Response, error) {
		ok, err := limiter.Acquire(ctx, domainKey, true, 30*time.Second)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("ratelimit: acquire denied for %s", domainKey)
		}
		resp, err := fn()
		limiter.RecordOutcome(domainKey, err == nil, 0)
		return resp, err
	}

	collectors := map[source.Type]collector.Collector{
		source.TypeRSS: rss.New(rss.WithFetcher(rssFetcher{http: httpClient, limit: rateLimitedFetch})),
		source.TypeWeb: web.New(web.WithFetcher(webFetcher{http: httpClient, limit: rateLimitedFetch})),
	}

	llmClient := llm.New(cfg.LLM.BaseURL, llm.Options{
		Timeout:            cfg.LLM.Timeout,
		MaxAttempts:        3,
		BaseDelay:          200 * time.Millisecond,
		BreakerMaxFailures: uint32(cfg.LLM.BreakerMaxFailures),
		BreakerTimeout:     cfg.LLM.BreakerTimeout,
	})
	embedder := llm.EmbeddingAdapter{Client: llmClient, Model: cfg.LLM.EmbeddingModel}

	dedupInstance := dedup.New(dedup.DefaultOptions(), sharedCache, embedder)
	validatorInstance := validator.New(validator.DefaultOptions())

	statusManager := status.New("./data/status", status.WithQueue(mq), status.WithFlushInterval(5*time.Second))
	if err := statusManager.Resume(); err != nil {
		slog.Warn("status snapshot not restored", "error", err)
	}

	taskQueue := queue.New(queue.Options{
		MaxSize:   0,
		BaseDelay: cfg.Queue.DefaultTimeout / 10,
	}, func(ctx context.Context, t *task.Task) {
		if err := statusManager.Record(ctx, t); err != nil {
			slog.Error("status record failed", "task_id", t.ID, "error", err)
		}
	})

	llmQueueInstance := llmqueue.New(llmqueue.Options{
		InitialConcurrency: adaptive.DefaultConfig().StartConcurrency,
		CacheTTL:           cfg.Cache.DefaultTTL,
	}, sharedCache, func(ctx context.Context, t *llmtask.Task) {
		attrs := []any{"task_id", t.ID, "type", string(t.Type)}
		if t.Error != "" {
			slog.Error("llm task failed", append(attrs, "error", t.Error)...)
			return
		}
		slog.Info("llm task completed", attrs...)
	})

	adaptiveCfg := adaptive.DefaultConfig()
	adaptiveCfg.SampleInterval = cfg.Adaptive.SampleInterval
	adaptiveCfg.HysteresisSamples = cfg.Adaptive.HysteresisSamples
	adaptiveCfg.Cooldown = cfg.Adaptive.CooldownPeriod
	adaptiveCfg.OpenWindow = cfg.Adaptive.CircuitOpenWindow
	adaptiveCfg.CPUScaleDownMin = cfg.Adaptive.CPUHighWatermark
	adaptiveCfg.MemScaleDownMin = cfg.Adaptive.MemHighWatermark
	adaptiveCfg.MemEmergencyMin = cfg.Adaptive.MemEmergencyThreshold
	adaptiveCfg.HighLatency = cfg.Adaptive.P95LatencyThreshold
	adaptiveCfg.CircuitThreshold = cfg.Adaptive.ErrorRateThreshold
	adaptiveCfg.CPUScaleUpMax = cfg.Adaptive.CPUScaleUpMax
	adaptiveCfg.ErrRateScaleUpMax = cfg.Adaptive.ErrorRateScaleUpMax
	adaptiveCfg.HighWatermark = cfg.Adaptive.QueueHighWatermark
	adaptiveCfg.StartConcurrency = cfg.Adaptive.MinConcurrency
	adaptiveCfg.MaxWorkers = cfg.Adaptive.MaxConcurrency

	adaptiveController := adaptive.New(adaptiveCfg, llmQueueInstance, llmQueueInstance, llmQueueInstance, adaptive.WithQueue(mq))
	llmClient.SetRecorder(adaptiveController.Recorder())

	registerLLMHandlers(llmQueueInstance, llmClient, cfg)

	pipelineInstance := pipeline.New(store, collectors, validatorInstance, dedupInstance)

	taskQueue.RegisterHandler("collect_source", func(ctx context.Context, payload any) (any, error) {
		name, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("collect_source: payload is %T, want string", payload)
		}
		cfg, ok := sourceRegistry.Get(name)
		if !ok {
			return nil, fmt.Errorf("collect_source: unknown source %q", name)
		}
		n, err := pipelineInstance.CollectSource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if payload, marshalErr := marshalCollectionComplete(name, n); marshalErr == nil {
			_ = mq.Publish(ctx, "atlas.collection.complete", payload)
		}
		return n, nil
	})

	taskQueue.RegisterHandler("process_raw", func(ctx context.Context, payload any) (any, error) {
		id, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("process_raw: payload is %T, want string", payload)
		}
		return nil, pipelineInstance.ProcessRaw(ctx, id)
	})

	taskQueue.RegisterHandler("dispatch_pending", func(ctx context.Context, _ any) (any, error) {
		pending, err := store.IterPending(ctx, 100)
		if err != nil {
			return nil, err
		}
		for _, raw := range pending {
			_ = taskQueue.Submit(&task.Task{
				ID:             uuid.NewString(),
				Name:           "process_raw",
				Priority:       task.PriorityNormal,
				CreatedAt:      time.Now(),
				MaxRetries:     2,
				TimeoutSeconds: 60,
				Payload:        raw.ID,
			})
		}
		return len(pending), nil
	})

	taskQueue.RegisterHandler("reload_registries", func(ctx context.Context, _ any) (any, error) {
		if err := sourceRegistry.Reload(); err != nil {
			return nil, err
		}
		return nil, uaRegistry.Reload()
	})

	cronLocation, err := time.LoadLocation(cfg.Cron.Timezone)
	if err != nil {
		return fmt.Errorf("load cron timezone: %w", err)
	}
	cronScheduler := cron.New(taskQueue, cronLocation, cron.WithQueue(mq))
	if err := cronScheduler.AddJob("dispatch-pending", "* * * * *", "dispatch_pending", task.PriorityNormal); err != nil {
		return fmt.Errorf("add cron job dispatch-pending: %w", err)
	}
	if err := cronScheduler.AddJob("reload-registries", "@hourly", "reload_registries", task.PriorityLow); err != nil {
		return fmt.Errorf("add cron job reload-registries: %w", err)
	}

	var stopTickers []func()
	for _, sc := range sourceRegistry.Enabled() {
		stopTickers = append(stopTickers, startSourcePoller(ctx, taskQueue, sc))
	}

	taskQueue.StartWorkers(ctx, cfg.Queue.Workers)
	go llmQueueInstance.Run(ctx)
	go adaptiveController.Run(ctx)
	go cronScheduler.Run(ctx)
	go statusManager.Run(ctx)

	slog.Info("atlas started",
		"sources", len(sourceRegistry.Enabled()),
		"queue_workers", cfg.Queue.Workers,
	)

	<-ctx.Done()
	slog.Info("atlas shutting down")

	for _, stopTicker := range stopTickers {
		stopTicker()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	taskQueue.Shutdown(shutdownCtx)
	llmQueueInstance.Shutdown(shutdownCtx)

	if err := mq.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
	}

	return nil
}

// startSourcePoller submits a collect_source task for cfg every
// cfg.Interval until ctx is cancelled, since CronScheduler's five-field
// expressions and named descriptors have no way to express an arbitrary
// per-source interval. It returns a function that stops the poller early.
func startSourcePoller(ctx context.Context, q *queue.Queue, cfg *source.Config) func() {
	tickerCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-tickerCtx.Done():
				return
			case <-ticker.C:
				err := q.Submit(&task.Task{
					ID:             uuid.NewString(),
					Name:           "collect_source",
					Priority:       task.PriorityNormal,
					CreatedAt:      time.Now(),
					MaxRetries:     cfg.RetryCount,
					TimeoutSeconds: int(cfg.Timeout.Seconds()),
					Payload:        cfg.Name,
				})
				if err != nil {
					slog.Error("collect_source submit failed", "source", cfg.Name, "error", err)
				}
			}
		}
	}()
	return cancel
}

// registerLLMHandlers wires LLMQueue's four task types to LLMClient calls.
// Payloads are the plain maps a caller's Submit built (no dedicated payload
// types exist yet — TypeSemanticDedup and TypeBatchProcess are reserved for
// future queued bulk dedup/enrichment work per the pipeline's own decision
// to call EmbeddingAdapter directly for its inline per-document check).
func registerLLMHandlers(q *llmqueue.Queue, c *llm.Client, cfg *config.Config) {
	q.RegisterHandler(llmtask.TypeGenerate, func(ctx context.Context, payload any) (any, error) {
		m, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("generate: payload is %T, want map[string]any", payload)
		}
		prompt, _ := m["prompt"].(string)
		model, _ := m["model"].(string)
		if model == "" {
			model = cfg.LLM.GenerateModel
		}
		return c.Generate(ctx, prompt, llm.GenerateParams{Model: model})
	})

	q.RegisterHandler(llmtask.TypeEmbed, func(ctx context.Context, payload any) (any, error) {
		m, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("embed: payload is %T, want map[string]any", payload)
		}
		texts, _ := m["texts"].([]string)
		model, _ := m["model"].(string)
		if model == "" {
			model = cfg.LLM.EmbeddingModel
		}
		return c.Embed(ctx, model, texts)
	})

	q.RegisterHandler(llmtask.TypeSemanticDedup, func(ctx context.Context, payload any) (any, error) {
		m, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("semantic_dedup: payload is %T, want map[string]any", payload)
		}
		text, _ := m["text"].(string)
		vec, err := c.Embed(ctx, cfg.LLM.EmbeddingModel, []string{text})
		if err != nil {
			return nil, err
		}
		return vec[0], nil
	})

	q.RegisterHandler(llmtask.TypeBatchProcess, func(ctx context.Context, payload any) (any, error) {
		m, ok := payload.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("batch_process: payload is %T, want map[string]any", payload)
		}
		prompts, _ := m["prompts"].([]string)
		results := make([]llm.Completion, 0, len(prompts))
		for _, p := range prompts {
			res, err := c.Generate(ctx, p, llm.GenerateParams{Model: cfg.LLM.GenerateModel})
			if err != nil {
				return results, err
			}
			results = append(results, res)
		}
		return results, nil
	})
}

func ternaryAlpha(enabled bool, alpha float64) float64 {
	if !enabled {
		return 0
	}
	return alpha
}

func marshalCollectionComplete(name string, count int) ([]byte, error) {
	return []byte(fmt.Sprintf(`{"source_name":%q,"raw_count":%d,"error_count":0,"completed_at":%q}`,
		name, count, time.Now().UTC().Format(time.RFC3339))), nil
}

// rssFetcher bridges httpclient.Client's Response type into rss.Fetcher's
// own narrower Response, applying the per-domain rate limiter around the
// call (httpclient.Client itself has no notion of per-source admission).
type rssFetcher struct {
	http  *httpclient.Client
	limit func(domainKey string, fn func() (*httpclient.Response, error)) (*httpclient.Response, error)
}

func (f rssFetcher) Request(ctx context.Context, method, url string, headers http.Header, body []byte) (*rss.Response, error) {
	resp, err := f.limit(url, func() (*httpclient.Response, error) {
		return f.http.Request(ctx, method, url, headers, body)
	})
	if err != nil {
		return nil, err
	}
	return &rss.Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// webFetcher is rssFetcher's twin for the web collector's own Fetcher type.
type webFetcher struct {
	http  *httpclient.Client
	limit func(domainKey string, fn func() (*httpclient.Response, error)) (*httpclient.Response, error)
}

func (f webFetcher) Request(ctx context.Context, method, url string, headers http.Header, body []byte) (*web.Response, error) {
	resp, err := f.limit(url, func() (*httpclient.Response, error) {
		return f.http.Request(ctx, method, url, headers, body)
	})
	if err != nil {
		return nil, err
	}
	return &web.Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}
