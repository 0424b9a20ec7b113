// Package llm implements LLMClient (§4.10): a thin wrapper around a local
// inference service's Ollama-shaped HTTP API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Options configures a Client.
type Options struct {
	// MaxConcurrent bounds in-flight requests; 0 means unbounded.
	MaxConcurrent int
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
	// MaxAttempts bounds connection-error retries (protocol/4xx errors are
	// never retried, per §4.10).
	MaxAttempts int
	BaseDelay   time.Duration
	// BreakerMaxFailures/BreakerTimeout configure the gobreaker instance
	// guarding individual calls.
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// DefaultOptions returns sane local-inference defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrent:      8,
		Timeout:            60 * time.Second,
		MaxAttempts:        3,
		BaseDelay:          200 * time.Millisecond,
		BreakerMaxFailures: 5,
		BreakerTimeout:     10 * time.Second,
	}
}

// Model describes one locally available model, as reported by /api/tags.
type Model struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Details    struct {
		ParameterSize string `json:"parameter_size"`
		Family        string `json:"family"`
	} `json:"details"`
}

// Health reports whether the inference service answered. Client.Health
// leaves Version empty, since the /api/tags probe carries no version.
type Health struct {
	Reachable bool
	Version   string
}

// Completion is the result of a non-streaming generate call.
type Completion struct {
	Model      string
	Response   string
	Done       bool
	EvalCount  int
	TotalNanos int64
}

// GenerateParams holds the optional knobs accepted by /api/generate.
type GenerateParams struct {
	Model   string
	System  string
	Options map[string]any
}

// Client is the LLMClient port implementation. Each outgoing call is routed
// through a gobreaker.CircuitBreaker tripped only by connection errors —
// distinct from the five-state AdaptiveController (C12), which reasons
// about LLMQueue health over whole sampling windows rather than a single
// HTTP call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	opts       Options
	breaker    *gobreaker.CircuitBreaker
	sem        chan struct{}
	recorder   Recorder
}

// Recorder observes call latency and outcome. AdaptiveController (C12)
// implements this to feed its p95-latency and error-rate sampling windows
// without LLMClient importing that package.
type Recorder interface {
	Record(latency time.Duration, err error)
}

// SetRecorder attaches an observer invoked after every top-level call,
// mirroring the teacher's SetBreaker/SetVault late-binding setters.
func (c *Client) SetRecorder(r Recorder) {
	c.recorder = r
}

// New builds a Client against baseURL (e.g. "http://localhost:11434").
func New(baseURL string, opts Options) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}

	var sem chan struct{}
	if opts.MaxConcurrent > 0 {
		sem = make(chan struct{}, opts.MaxConcurrent)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-client",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerMaxFailures
		},
		// Only connection errors count against the breaker — a stream of
		// 4xx protocol errors from malformed requests shouldn't trip it.
		IsSuccessful: func(err error) bool {
			var lerr *Error
			if errors.As(err, &lerr) {
				return !lerr.Retryable()
			}
			return err == nil
		},
	})

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		breaker:    breaker,
		sem:        sem,
	}
}

// Health checks the inference service's reachability via /api/tags (Ollama
// has no dedicated health endpoint; a successful tags listing is the
// idiomatic substitute).
func (c *Client) Health(ctx context.Context) (Health, error) {
	_, err := c.ListModels(ctx)
	if err != nil {
		return Health{Reachable: false}, err
	}
	return Health{Reachable: true}, nil
}

// ListModels returns the models currently available to the inference
// service via /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	data, err := c.doWithRetry(ctx, "list_models", http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Models []Model `json:"models"`
	}
	if jerr := json.Unmarshal(data, &result); jerr != nil {
		return nil, &Error{Kind: KindProtocol, Op: "list_models", Cause: jerr}
	}
	return result.Models, nil
}

// Generate performs a single non-streaming completion via /api/generate.
func (c *Client) Generate(ctx context.Context, prompt string, params GenerateParams) (Completion, error) {
	body, err := json.Marshal(map[string]any{
		"model":   params.Model,
		"prompt":  prompt,
		"system":  params.System,
		"options": params.Options,
		"stream":  false,
	})
	if err != nil {
		return Completion{}, &Error{Kind: KindProtocol, Op: "generate", Cause: err}
	}

	data, err := c.doWithRetry(ctx, "generate", http.MethodPost, "/api/generate", body)
	if err != nil {
		return Completion{}, err
	}

	var raw struct {
		Model      string `json:"model"`
		Response   string `json:"response"`
		Done       bool   `json:"done"`
		EvalCount  int    `json:"eval_count"`
		TotalNanos int64  `json:"total_duration"`
	}
	if jerr := json.Unmarshal(data, &raw); jerr != nil {
		return Completion{}, &Error{Kind: KindProtocol, Op: "generate", Cause: jerr}
	}
	return Completion{
		Model:      raw.Model,
		Response:   raw.Response,
		Done:       raw.Done,
		EvalCount:  raw.EvalCount,
		TotalNanos: raw.TotalNanos,
	}, nil
}

// Embed returns one embedding vector per input text via /api/embeddings,
// issued one request per text (the Ollama embeddings endpoint takes a
// single prompt).
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		v, err := c.embedOne(ctx, model, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// EmbeddingAdapter narrows Client down to dedup.EmbeddingProvider's
// single-text-in, single-vector-out shape, fixed to one model — so the
// Deduplicator (C5) depends on neither this package nor a model parameter
// it has no opinion about.
type EmbeddingAdapter struct {
	Client *Client
	Model  string
}

// Embed satisfies dedup.EmbeddingProvider.
func (a EmbeddingAdapter) Embed(ctx context.Context, text string) ([]float64, error) {
	return a.Client.embedOne(ctx, a.Model, text)
}

func (c *Client) embedOne(ctx context.Context, model, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]any{"model": model, "prompt": text})
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: "embed", Cause: err}
	}

	data, err := c.doWithRetry(ctx, "embed", http.MethodPost, "/api/embeddings", body)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Embedding []float64 `json:"embedding"`
	}
	if jerr := json.Unmarshal(data, &raw); jerr != nil {
		return nil, &Error{Kind: KindProtocol, Op: "embed", Cause: jerr}
	}
	return raw.Embedding, nil
}

// doWithRetry performs one HTTP exchange with connection-error-only retry
// (§4.10), routed through the circuit breaker and bounded by the
// concurrency semaphore.
func (c *Client) doWithRetry(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	start := time.Now()
	data, err := c.doWithRetryUnrecorded(ctx, op, method, path, body)
	if c.recorder != nil {
		c.recorder.Record(time.Since(start), err)
	}
	return data, err
}

func (c *Client) doWithRetryUnrecorded(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	if c.sem != nil {
		select {
		case c.sem <- struct{}{}:
			defer func() { <-c.sem }()
		case <-ctx.Done():
			return nil, &Error{Kind: KindTimeout, Op: op, Cause: ctx.Err()}
		}
	}

	var lastErr *Error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		data, err := c.callThroughBreaker(ctx, op, method, path, body)
		if err == nil {
			return data, nil
		}

		var lerr *Error
		if !errors.As(err, &lerr) {
			lerr = &Error{Kind: KindConnection, Op: op, Cause: err}
		}
		lastErr = lerr
		if !lerr.Retryable() || attempt == c.opts.MaxAttempts {
			return nil, lerr
		}

		select {
		case <-ctx.Done():
			return nil, &Error{Kind: KindTimeout, Op: op, Cause: ctx.Err()}
		case <-time.After(backoffDelay(c.opts.BaseDelay, attempt)):
		}
	}
	return nil, lastErr
}

func (c *Client) callThroughBreaker(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.exchange(ctx, op, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &Error{Kind: KindConnection, Op: op, Cause: err}
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Client) exchange(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}

	if resp.StatusCode >= 400 {
		return nil, classifyStatusError(op, resp.StatusCode, data)
	}
	return data, nil
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<uint(attempt-1))
}
